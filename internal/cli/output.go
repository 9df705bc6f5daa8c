package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRunReportTable(out io.Writer, rep RunReport) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEED\tFETCHED\tNEW\tDELIVERED\tFAILED\tSAVED\tERROR")
	for _, r := range rep.Results {
		fmt.Fprintf(
			tw,
			"%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			compactText(r.Feed, 30),
			r.Fetched,
			r.New,
			r.Delivered,
			r.Failed,
			savedLabel(r),
			compactText(oneLine(r.Error), 70),
		)
	}
	_ = tw.Flush()
	for _, w := range rep.Warnings {
		fmt.Fprintf(out, "warning: %s\n", oneLine(w))
	}
}

func writeFeedsTable(out io.Writer, feeds []FeedStatus, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENTRIES\tLAST_RUN\tFOLDER\tURL")
	for _, f := range feeds {
		entries := "-"
		if f.HasSnapshot {
			entries = fmt.Sprintf("%d", f.Entries)
		}
		fmt.Fprintf(
			tw,
			"%s\t%s\t%s\t%s\t%s\n",
			compactText(f.Name, 30),
			entries,
			humanAgo(f.SavedAt, now),
			compactText(f.Folder, 48),
			compactText(fallback(f.URL, "(none)"), 56),
		)
	}
	_ = tw.Flush()
}

func savedLabel(r FeedResult) string {
	switch {
	case r.SnapshotSaved && r.FirstRun:
		return "first"
	case r.SnapshotSaved:
		return "yes"
	default:
		return "no"
	}
}

func oneLine(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.TrimSpace(v)
}
