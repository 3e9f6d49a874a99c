package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwald/warden/internal/rule"
	"github.com/mwald/warden/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Rule   string
	Parent string
	Status string
	Limit  int
	File   string
	Events bool
}

// NewLogCommand creates the run-log query command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query the run log",
		Long: `Query run log entries, newest first. With --file, show the per-file
event history of one content hash instead.

Example:
  warden log --limit 20
  warden log --rule consolidate --status failure
  warden log --file 8f3a9c...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rule, "rule", "", "filter by rule id")
	cmd.Flags().StringVar(&opts.Parent, "parent", "", "filter by parent run id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (running|success|failure)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum entries")
	cmd.Flags().StringVar(&opts.File, "file", "", "show events for one content hash")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "include per-file events for each entry")
	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmdContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	if opts.File != "" {
		events, err := a.store.FileEventsByHash(ctx, opts.File, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load file events", err)
		}
		if f.Format == "json" {
			return f.Success(events)
		}
		return f.Success(renderFileEvents(opts.File, events))
	}

	entries, err := a.store.QueryRunLogs(ctx, store.RunLogFilter{
		RuleID:      opts.Rule,
		ParentRunID: opts.Parent,
		Status:      rule.RunStatus(opts.Status),
		Limit:       opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query run log", err)
	}

	if f.Format == "json" {
		return f.Success(entries)
	}

	var b strings.Builder
	if len(entries) == 0 {
		return f.Success("no run log entries")
	}
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderRunLogEntry(&e))
		if opts.Events {
			events, err := a.store.FileEventsByRun(ctx, e.ID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load file events", err)
			}
			for _, ev := range events {
				fmt.Fprintf(&b, "\n    %s %s", ev.Status, ev.Hash)
				if ev.Detail != "" {
					fmt.Fprintf(&b, " (%s)", ev.Detail)
				}
			}
		}
	}
	return f.Success(b.String())
}

func renderRunLogEntry(e *rule.RunLogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-8s %-24s matched %d, actioned %d, failed %d, skipped %d",
		e.StartTime.Format(time.RFC3339), e.Status, e.RuleID,
		e.Counts.Matched, e.Counts.Succeed, e.Counts.Failed, e.Counts.Skipped)
	if e.Counts.RecentlyViewed > 0 {
		fmt.Fprintf(&b, ", recently viewed %d", e.Counts.RecentlyViewed)
	}
	if e.Summary != "" && e.Status == rule.RunStatusFailure {
		fmt.Fprintf(&b, "\n    %s", e.Summary)
	}
	for _, w := range e.Warnings {
		fmt.Fprintf(&b, "\n    warning (%s): %s", w.Level, w.Message)
	}
	return b.String()
}

func renderFileEvents(hash string, events []rule.FileEvent) string {
	if len(events) == 0 {
		return fmt.Sprintf("no events for %s", hash)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "events for %s, newest first:", hash)
	for _, ev := range events {
		fmt.Fprintf(&b, "\n%-24s %s", ev.Status, ev.RunLogID)
		if ev.Detail != "" {
			fmt.Fprintf(&b, " (%s)", ev.Detail)
		}
	}
	return b.String()
}
