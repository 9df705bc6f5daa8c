package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/rss2maildir/internal/config"
	"github.com/tengjizhang/rss2maildir/internal/runner"
)

// Execute runs the command line against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	var opts config.Options
	var output string
	var dryRun bool
	var outFmt OutputFormat
	var app *App

	output = string(OutputTable)

	getApp := func() *App { return app }
	getOutput := func() OutputFormat { return outFmt }

	cmd := &cobra.Command{
		Use:   "rss2maildir",
		Short: "Deliver new feed entries into maildir folders",
		Long: "rss2maildir polls the configured RSS/Atom feeds once, compares each with the\n" +
			"entries seen on the previous run and delivers every new entry as a message\n" +
			"into the feed's maildir folder.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			parsedFmt, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			outFmt = parsedFmt
			if !requiresApp(cmd) {
				return nil
			}
			if app != nil {
				return nil
			}
			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}
			a, err := NewApp(cfg)
			if err != nil {
				return err
			}
			app = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				_ = app.Close()
				app = nil
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			report := app.Runner(runner.Options{DryRun: dryRun}).Run(cmd.Context())
			if getOutput() == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			writeRunReportTable(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Config file (toml, yaml or json)")
	cmd.PersistentFlags().StringVarP(&opts.CacheDir, "cache", "t", "", "Snapshot storage path (the snapshot maildir with the maildir backend)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVarP(&output, "output", "o", output, "Output format: table, json")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and compare only; deliver and save nothing")

	cmd.AddCommand(newFeedsCmd(getApp, getOutput))

	return cmd
}

func parseOutputFormat(raw string) (OutputFormat, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch OutputFormat(s) {
	case OutputTable, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("invalid output format %q (expected table|json)", raw)
	}
}

func requiresApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		name := c.Name()
		if name == "help" || name == "completion" {
			return false
		}
	}
	return true
}
