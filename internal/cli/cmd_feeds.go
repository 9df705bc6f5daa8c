package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/rss2maildir/internal/snapshot"
)

func newFeedsCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List configured feeds with their folder and snapshot state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			statuses, err := app.feedStatuses(cmd)
			if err != nil {
				return err
			}
			if getOutput() == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), statuses)
			}
			writeFeedsTable(cmd.OutOrStdout(), statuses, time.Now())
			return nil
		},
	}
}

func (a *App) feedStatuses(cmd *cobra.Command) ([]FeedStatus, error) {
	peeker, canPeek := a.store.(snapshot.Peeker)
	out := make([]FeedStatus, 0, len(a.cfg.Feeds))
	for _, f := range a.cfg.Feeds {
		st := FeedStatus{
			Name:   f.Name,
			URL:    f.URL,
			Folder: a.cfg.TargetFolder(f),
		}
		if canPeek {
			snap, err := peeker.Peek(cmd.Context(), f.Name)
			switch {
			case errors.Is(err, snapshot.ErrCorrupt):
			case err != nil:
				return nil, err
			case snap != nil:
				savedAt := snap.SavedAt
				st.HasSnapshot = true
				st.Entries = len(snap.Entries)
				st.SavedAt = &savedAt
			}
		}
		out = append(out, st)
	}
	return out, nil
}
