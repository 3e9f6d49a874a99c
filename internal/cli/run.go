package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwald/warden/internal/engine"
	"github.com/mwald/warden/internal/rule"
)

// RunCmdOptions holds flags for the run command.
type RunCmdOptions struct {
	*RootOptions
	Bypass []string
	Deep   bool
}

// NewRunCommand creates the manual-trigger command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run (rule <id> | set <id> | all)",
		Short: "Run rules now",
		Long: `Trigger a pass immediately, outside the schedule. The pass goes
through the same serialized lane as scheduled work.

Example:
  warden run rule archive_big_videos
  warden run rule consolidate --deep
  warden run set nightly --bypass-override consolidate
  warden run all`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(opts, cmd, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Bypass, "bypass-override", nil,
		"rule ids allowed to act past recorded governance owners")
	cmd.Flags().BoolVar(&opts.Deep, "deep", false,
		"force a deep re-check on force_in rules in this pass")
	return cmd
}

func runTrigger(opts *RunCmdOptions, cmd *cobra.Command, args []string) error {
	a, err := openApp(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.engine.Run(ctx)
	}()
	defer func() {
		cancel()
		<-workerDone
	}()

	runOpts := engine.RunOptions{BypassOverride: opts.Bypass, Deep: opts.Deep}

	var pass *engine.PassResult
	switch args[0] {
	case "rule":
		if len(args) != 2 {
			return NewExitError(ExitCommandError, "run rule needs a rule id")
		}
		pass, err = a.engine.RunRule(ctx, args[1], runOpts)
	case "set":
		if len(args) != 2 {
			return NewExitError(ExitCommandError, "run set needs a set id")
		}
		pass, err = a.engine.RunSet(ctx, args[1], runOpts)
	case "all":
		if len(args) != 1 {
			return NewExitError(ExitCommandError, "run all takes no further argument")
		}
		pass, err = a.engine.RunAll(ctx, runOpts)
	default:
		return NewExitError(ExitCommandError,
			fmt.Sprintf("unknown run target %q (rule, set, all)", args[0]))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if err := outputPass(formatter, pass); err != nil {
		return err
	}
	if !pass.Success {
		return NewExitError(ExitFailure, "pass finished with failures")
	}
	return nil
}

// passReport is the JSON shape of a finished pass.
type passReport struct {
	ParentRunID string          `json:"parent_run_id"`
	Success     bool            `json:"success"`
	Rules       []ruleRunReport `json:"rules"`
}

type ruleRunReport struct {
	RuleID   string           `json:"rule_id"`
	RuleName string           `json:"rule_name"`
	Status   rule.RunStatus   `json:"status"`
	Counts   rule.RunCounts   `json:"counts"`
	Warnings []rule.Warning   `json:"warnings,omitempty"`
	Error    *engine.RunError `json:"error,omitempty"`
}

func outputPass(f *OutputFormatter, pass *engine.PassResult) error {
	report := passReport{
		ParentRunID: pass.ParentRunID,
		Success:     pass.Success,
		Rules:       []ruleRunReport{},
	}
	for _, r := range pass.Rules {
		report.Rules = append(report.Rules, ruleRunReport{
			RuleID:   r.RuleID,
			RuleName: r.RuleName,
			Status:   r.Status,
			Counts:   r.Counts,
			Warnings: r.Warnings,
			Error:    r.Err,
		})
	}
	if f.Format == "json" {
		return f.Success(report)
	}
	return f.Success(renderPass(&report))
}

func renderPass(report *passReport) string {
	var b strings.Builder
	for _, r := range report.Rules {
		fmt.Fprintf(&b, "%s (%s): %s", r.RuleID, r.RuleName, r.Status)
		if r.Error != nil {
			fmt.Fprintf(&b, " [%s] %s", r.Error.Code, r.Error.Message)
		} else {
			fmt.Fprintf(&b, " - matched %d, actioned %d, failed %d, skipped %d",
				r.Counts.Matched, r.Counts.Succeed, r.Counts.Failed, r.Counts.Skipped)
			if r.Counts.RecentlyViewed > 0 {
				fmt.Fprintf(&b, ", recently viewed %d", r.Counts.RecentlyViewed)
			}
		}
		b.WriteString("\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  warning (%s): %s\n", w.Level, w.Message)
		}
	}
	if report.Success {
		fmt.Fprintf(&b, "pass %s succeeded", report.ParentRunID)
	} else {
		fmt.Fprintf(&b, "pass %s failed", report.ParentRunID)
	}
	return b.String()
}
