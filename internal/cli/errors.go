package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tengjizhang/rss2maildir/internal/config"
)

const (
	exitInvalidConfig = 2
	exitInternal      = 1
)

// ErrorExitCode maps an error returned by Execute to the process exit code.
// Per-feed failures never reach here.
func ErrorExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrInvalidConfig), isUsageError(err):
		return exitInvalidConfig
	default:
		return exitInternal
	}
}

func FormatError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return fmt.Sprintf("Error [config]: %v", err)
	case isUsageError(err):
		return fmt.Sprintf("Error [usage]: %v", err)
	default:
		return fmt.Sprintf("Error [internal]: %v", err)
	}
}

func PrintError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, FormatError(err))
}

// isUsageError recognizes cobra's flag and argument errors, which carry no
// sentinel of their own.
func isUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid output format") ||
		strings.Contains(msg, "unknown flag") ||
		strings.Contains(msg, "unknown shorthand flag") ||
		strings.Contains(msg, "unknown command") ||
		strings.Contains(msg, "accepts ")
}
