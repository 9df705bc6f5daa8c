package cli

import "github.com/tengjizhang/rss2maildir/internal/model"

type OutputFormat = model.OutputFormat
type RunReport = model.RunReport
type FeedResult = model.FeedResult
type FeedStatus = model.FeedStatus

const (
	OutputTable = model.OutputTable
	OutputJSON  = model.OutputJSON
)
