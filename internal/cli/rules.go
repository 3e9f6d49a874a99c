package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwald/warden/internal/rule"
	"github.com/mwald/warden/internal/store"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage stored rules",
	}
	cmd.AddCommand(newRulesListCommand(rootOpts))
	cmd.AddCommand(newRulesShowCommand(rootOpts))
	cmd.AddCommand(newRulesImportCommand(rootOpts))
	cmd.AddCommand(newRulesDeleteCommand(rootOpts))
	return cmd
}

func newRulesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List rules in precedence order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.store.ListRules(cmdContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list rules", err)
			}

			f := formatterFor(rootOpts, cmd)
			if f.Format == "json" {
				return f.Success(ruleSummaries(rules))
			}
			return f.Success(renderRuleList(rules))
		},
	}
}

func newRulesShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show one rule in full",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.store.GetRule(cmdContext(cmd), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load rule", err)
			}
			detail, err := ruleDetail(r)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to encode rule", err)
			}

			f := formatterFor(rootOpts, cmd)
			if f.Format == "json" {
				return f.Success(detail)
			}
			pretty, err := json.MarshalIndent(detail, "", "  ")
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to encode rule", err)
			}
			return f.Success(string(pretty))
		},
	}
}

func newRulesImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file-or-dir>",
		Short: "Compile CUE rule files and store them",
		Long: `Compile a CUE rule file (or every .cue file under a directory) and
store the rules and sets it defines. Existing rules with the same id
are replaced; their scheduled-run counters are preserved. A declared
set's member list replaces its stored associations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return importRules(a, cmd, rootOpts, args[0])
		},
	}
}

func importRules(a *app, cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	result, loadErrs := LoadRules(path, LoadModeFailFast)
	if len(loadErrs) > 0 {
		return WrapExitError(ExitFailure, "failed to compile rules", loadErrs[0])
	}
	ctx := cmdContext(cmd)

	for i := range result.File.Rules {
		r := &result.File.Rules[i]
		if err := a.store.SaveRule(ctx, r); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to save rule %s", r.ID), err)
		}
	}
	for _, def := range result.File.Sets {
		if err := importSet(ctx, a.store, def.Set, def.Members); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to save set %s", def.Set.ID), err)
		}
	}

	f := formatterFor(rootOpts, cmd)
	return f.Success(fmt.Sprintf("imported %d rule(s) and %d set(s) from %d file(s)",
		len(result.File.Rules), len(result.File.Sets), result.FileCount))
}

// importSet stores the set and makes its declared members the set's
// complete association list.
func importSet(ctx context.Context, st *store.Store, set rule.RuleSet, members []string) error {
	if err := st.SaveSet(ctx, &set); err != nil {
		return err
	}
	declared := make(map[string]bool, len(members))
	for _, id := range members {
		declared[id] = true
	}
	existing, err := st.Associations(ctx)
	if err != nil {
		return err
	}
	for _, assoc := range existing {
		if assoc.SetID == set.ID && !declared[assoc.RuleID] {
			if err := st.Dissociate(ctx, assoc.RuleID, set.ID); err != nil {
				return err
			}
		}
	}
	for pos, id := range members {
		if err := st.Associate(ctx, id, set.ID, pos); err != nil {
			return err
		}
	}
	return nil
}

func newRulesDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a rule and its set associations",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteRule(cmdContext(cmd), args[0]); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete rule", err)
			}
			f := formatterFor(rootOpts, cmd)
			return f.Success(fmt.Sprintf("deleted rule %s", args[0]))
		},
	}
}

// ruleSummary is the list-view JSON shape.
type ruleSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Schedule string `json:"schedule"`
	RunCount int    `json:"run_count"`
}

func ruleSummaries(rules []rule.Rule) []ruleSummary {
	out := make([]ruleSummary, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleSummary{
			ID:       r.ID,
			Name:     r.Name,
			Priority: r.Priority,
			Action:   rule.ActionType(r.Action),
			Schedule: describeSchedule(r.Schedule),
			RunCount: r.RunCount,
		})
	}
	return out
}

func describeSchedule(s rule.Schedule) string {
	switch s.Mode {
	case rule.ScheduleCustom:
		return fmt.Sprintf("every %ds", s.Seconds)
	case rule.ScheduleNone:
		return "manual only"
	default:
		return "default"
	}
}

func renderRuleList(rules []rule.Rule) string {
	if len(rules) == 0 {
		return "no rules stored"
	}
	var b strings.Builder
	for i, r := range rules {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%3d  %-24s %-14s %-12s %s",
			r.Priority, r.ID, rule.ActionType(r.Action), describeSchedule(r.Schedule), r.Name)
	}
	return b.String()
}

// ruleDetailView is the show-view JSON shape; conditions and action
// use the same envelopes the store persists.
type ruleDetailView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Priority   int             `json:"priority"`
	Conditions json.RawMessage `json:"conditions"`
	Action     json.RawMessage `json:"action"`
	Schedule   rule.Schedule   `json:"schedule"`
	DeepCheck  rule.DeepCheck  `json:"deep_check"`
	RunCount   int             `json:"run_count"`
}

func ruleDetail(r *rule.Rule) (*ruleDetailView, error) {
	conds, err := rule.EncodeConditions(r.Conditions)
	if err != nil {
		return nil, err
	}
	action, err := rule.EncodeAction(r.Action)
	if err != nil {
		return nil, err
	}
	return &ruleDetailView{
		ID:         r.ID,
		Name:       r.Name,
		Priority:   r.Priority,
		Conditions: conds,
		Action:     action,
		Schedule:   r.Schedule,
		DeepCheck:  r.DeepCheck,
		RunCount:   r.RunCount,
	}, nil
}

func formatterFor(rootOpts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
