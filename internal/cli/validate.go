package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command: compile rule files
// without touching the database.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file-or-dir>",
		Short: "Compile rule files without storing them",
		Long: `Compile a CUE rule file (or every .cue file under a directory) and
report all problems. Nothing is stored. Service references are checked
against the live catalog at run time, not here.

Example:
  warden validate ./rules
  warden validate rules.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args[0])
		},
	}
}

type validationReport struct {
	Valid     bool     `json:"valid"`
	FileCount int      `json:"file_count"`
	Rules     int      `json:"rules"`
	Sets      int      `json:"sets"`
	Errors    []string `json:"errors,omitempty"`
}

func runValidate(rootOpts *RootOptions, cmd *cobra.Command, path string) error {
	setupLogging(rootOpts.Verbose)
	f := formatterFor(rootOpts, cmd)

	result, loadErrs := LoadRules(path, LoadModeCollectAll)
	report := validationReport{Valid: len(loadErrs) == 0}
	if result != nil {
		report.FileCount = result.FileCount
		report.Rules = len(result.File.Rules)
		report.Sets = len(result.File.Sets)
	}
	for _, err := range loadErrs {
		report.Errors = append(report.Errors, err.Error())
	}

	if f.Format == "json" {
		if err := f.Success(report); err != nil {
			return err
		}
	} else {
		var b strings.Builder
		if report.Valid {
			fmt.Fprintf(&b, "ok: %d rule(s) and %d set(s) in %d file(s)",
				report.Rules, report.Sets, report.FileCount)
		} else {
			fmt.Fprintf(&b, "%d problem(s):", len(report.Errors))
			for _, msg := range report.Errors {
				fmt.Fprintf(&b, "\n  %s", msg)
			}
		}
		if err := f.Success(b.String()); err != nil {
			return err
		}
	}

	if !report.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}
