package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwald/warden/internal/engine"
)

// EstimateOptions holds flags for the estimate command.
type EstimateOptions struct {
	*RootOptions
	Deep   bool
	Hashes bool
}

// NewEstimateCommand creates the dry-run estimation command.
func NewEstimateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EstimateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "estimate <rule-id>",
		Short: "Preview what a rule would do",
		Long: `Run the read-only half of a rule's pipeline: translate, search and
governance partition. Nothing is written, no counters move, and the
run log stays untouched.

Example:
  warden estimate archive_big_videos
  warden estimate consolidate --deep --hashes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Deep, "deep", false, "estimate a deep re-check run")
	cmd.Flags().BoolVar(&opts.Hashes, "hashes", false, "list matched hashes in text output")
	return cmd
}

func runEstimate(opts *EstimateOptions, cmd *cobra.Command, ruleID string) error {
	a, err := openApp(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	est, err := a.engine.EstimateImpact(ctx, ruleID, engine.RunOptions{Deep: opts.Deep})
	if err != nil && est == nil {
		return WrapExitError(ExitFailure, "estimation failed", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	var outErr error
	if opts.Format == "json" {
		outErr = formatter.Success(est)
	} else {
		outErr = formatter.Success(renderEstimate(est, opts.Hashes))
	}
	if outErr != nil {
		return outErr
	}
	// A critical translation warning still comes back with the partial
	// estimate; report it after showing the warnings.
	if err != nil {
		return WrapExitError(ExitFailure, "rule would not run", err)
	}
	return nil
}

func renderEstimate(est *engine.Estimate, withHashes bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", est.RuleID, est.RuleName)
	if est.Deep {
		b.WriteString(" [deep]")
	}
	fmt.Fprintf(&b, "\nmatched %d, eligible %d, skipped %d",
		len(est.Matched), len(est.Eligible), len(est.Skipped))
	if est.RecentlyViewed > 0 {
		fmt.Fprintf(&b, ", recently viewed %d", est.RecentlyViewed)
	}
	for _, w := range est.Warnings {
		fmt.Fprintf(&b, "\nwarning (%s): %s", w.Level, w.Message)
	}
	for _, s := range est.Skipped {
		fmt.Fprintf(&b, "\nskipped %s: %s", s.Hash, s.Reason)
	}
	if withHashes {
		for _, h := range est.Eligible {
			fmt.Fprintf(&b, "\neligible %s", h)
		}
	}
	return b.String()
}
