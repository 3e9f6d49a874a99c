package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwald/warden/internal/rule"
)

// NewSetsCommand creates the sets command group.
func NewSetsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sets",
		Short: "Manage rule sets",
	}
	cmd.AddCommand(newSetsListCommand(rootOpts))
	cmd.AddCommand(newSetsShowCommand(rootOpts))
	cmd.AddCommand(newSetsDeleteCommand(rootOpts))
	return cmd
}

type setSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Members  []string `json:"members"`
}

func newSetsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List rule sets",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmdContext(cmd)

			sets, err := a.store.ListSets(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sets", err)
			}

			summaries := make([]setSummary, 0, len(sets))
			for _, s := range sets {
				members, err := a.store.SetMembers(ctx, s.ID)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to load set members", err)
				}
				ids := make([]string, 0, len(members))
				for _, m := range members {
					ids = append(ids, m.ID)
				}
				summaries = append(summaries, setSummary{
					ID:       s.ID,
					Name:     s.Name,
					Schedule: describeSchedule(s.Schedule),
					Members:  ids,
				})
			}

			f := formatterFor(rootOpts, cmd)
			if f.Format == "json" {
				return f.Success(summaries)
			}
			return f.Success(renderSetList(summaries))
		},
	}
}

func newSetsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a set and its members in execution order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmdContext(cmd)

			set, err := a.store.GetSet(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load set", err)
			}
			members, err := a.store.SetMembers(ctx, set.ID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load set members", err)
			}
			// Execution order within a pass is precedence order, not
			// association order.
			rule.SortByPrecedence(members)

			f := formatterFor(rootOpts, cmd)
			if f.Format == "json" {
				return f.Success(struct {
					ID       string        `json:"id"`
					Name     string        `json:"name"`
					Schedule string        `json:"schedule"`
					Members  []ruleSummary `json:"members"`
				}{set.ID, set.Name, describeSchedule(set.Schedule), ruleSummaries(members)})
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%s (%s), schedule: %s", set.ID, set.Name, describeSchedule(set.Schedule))
			if len(members) == 0 {
				b.WriteString("\n(no members)")
			}
			for _, m := range members {
				fmt.Fprintf(&b, "\n%3d  %-24s %s", m.Priority, m.ID, m.Name)
			}
			return f.Success(b.String())
		},
	}
}

func newSetsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a set (member rules are kept)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteSet(cmdContext(cmd), args[0]); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete set", err)
			}
			f := formatterFor(rootOpts, cmd)
			return f.Success(fmt.Sprintf("deleted set %s", args[0]))
		},
	}
}

func renderSetList(sets []setSummary) string {
	if len(sets) == 0 {
		return "no sets stored"
	}
	var b strings.Builder
	for i, s := range sets {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%-24s %-14s %2d member(s)  %s", s.ID, s.Schedule, len(s.Members), s.Name)
	}
	return b.String()
}
