package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwald/warden/internal/engine"
	"github.com/mwald/warden/internal/rule"
	"github.com/mwald/warden/internal/store"
)

type fakeSubmitter struct {
	calls [][]string
}

func (f *fakeSubmitter) SubmitDue(ruleIDs []string, opts engine.RunOptions) bool {
	f.calls = append(f.calls, append([]string{}, ruleIDs...))
	return true
}

var schedNow = time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *store.Store, *fakeSubmitter) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sub := &fakeSubmitter{}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return schedNow }
	}
	if cfg.GlobalInterval == 0 {
		cfg.GlobalInterval = time.Hour
	}
	return New(st, sub, cfg), st, sub
}

func schedRule(id string, sched rule.Schedule) *rule.Rule {
	return &rule.Rule{
		ID:       id,
		Name:     "rule " + id,
		Priority: 5,
		Action:   rule.ArchiveFile{},
		Schedule: sched,
	}
}

func recordRun(t *testing.T, st *store.Store, ruleID string, start time.Time) {
	t.Helper()
	entry := &rule.RunLogEntry{
		ID:          ruleID + "-" + start.Format("150405"),
		ParentRunID: "p-" + ruleID,
		RuleID:      ruleID,
		RuleName:    "rule " + ruleID,
		StartTime:   start,
	}
	require.NoError(t, st.StartRunLog(context.Background(), entry))
	entry.EndTime = start.Add(time.Second)
	entry.Status = rule.RunStatusSuccess
	require.NoError(t, st.FinishRunLog(context.Background(), entry))
}

func TestEffectiveInterval(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{GlobalInterval: time.Hour})

	custom := rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 120}
	faster := rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 60}
	none := rule.Schedule{Mode: rule.ScheduleNone}
	deflt := rule.Schedule{Mode: rule.ScheduleDefault}

	cases := []struct {
		name      string
		rule      rule.Schedule
		sets      []rule.Schedule
		want      time.Duration
		scheduled bool
	}{
		{"rule custom wins over sets", custom, []rule.Schedule{faster}, 120 * time.Second, true},
		{"rule none is never scheduled", none, []rule.Schedule{faster}, 0, false},
		{"set custom overrides global", deflt, []rule.Schedule{custom}, 120 * time.Second, true},
		{"smallest custom set wins", deflt, []rule.Schedule{custom, faster}, 60 * time.Second, true},
		{"custom set beats none set", deflt, []rule.Schedule{none, faster}, 60 * time.Second, true},
		{"only none sets unschedule", deflt, []rule.Schedule{none}, 0, false},
		{"no overrides fall to global", deflt, nil, time.Hour, true},
		{"default sets fall to global", deflt, []rule.Schedule{deflt}, time.Hour, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := schedRule("r", tc.rule)
			got, scheduled := s.effectiveInterval(r, tc.sets)
			assert.Equal(t, tc.scheduled, scheduled)
			if scheduled {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestDueRules(t *testing.T) {
	s, st, _ := newTestScheduler(t, Config{GlobalInterval: time.Hour})
	ctx := context.Background()

	// Never run: due under the global interval.
	require.NoError(t, st.SaveRule(ctx, schedRule("fresh", rule.Schedule{Mode: rule.ScheduleDefault})))

	// Custom 60s, last ran 30s ago: not due.
	require.NoError(t, st.SaveRule(ctx, schedRule("recent", rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 60})))
	recordRun(t, st, "recent", schedNow.Add(-30*time.Second))

	// Custom 60s, last ran 2m ago: due.
	require.NoError(t, st.SaveRule(ctx, schedRule("stale", rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 60})))
	recordRun(t, st, "stale", schedNow.Add(-2*time.Minute))

	// Unscheduled, never run: not due.
	require.NoError(t, st.SaveRule(ctx, schedRule("manual", rule.Schedule{Mode: rule.ScheduleNone})))

	// Default rule in a custom-timed set: the set interval governs.
	require.NoError(t, st.SaveRule(ctx, schedRule("grouped", rule.Schedule{Mode: rule.ScheduleDefault})))
	set := &rule.RuleSet{ID: "nightly", Name: "nightly",
		Schedule: rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 600}}
	require.NoError(t, st.SaveSet(ctx, set))
	require.NoError(t, st.Associate(ctx, "grouped", "nightly", 0))
	recordRun(t, st, "grouped", schedNow.Add(-5*time.Minute))

	due, err := s.DueRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh", "stale"}, due)

	// Ten minutes later the grouped rule comes due too.
	s.now = func() time.Time { return schedNow.Add(10 * time.Minute) }
	due, err = s.DueRules(ctx)
	require.NoError(t, err)
	assert.Contains(t, due, "grouped")
	assert.NotContains(t, due, "manual")
}

func TestTickSubmitsOnePass(t *testing.T) {
	s, st, sub := newTestScheduler(t, Config{GlobalInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, st.SaveRule(ctx, schedRule("a", rule.Schedule{Mode: rule.ScheduleDefault})))
	require.NoError(t, st.SaveRule(ctx, schedRule("b", rule.Schedule{Mode: rule.ScheduleDefault})))

	s.tick()
	require.Len(t, sub.calls, 1)
	assert.Equal(t, []string{"a", "b"}, sub.calls[0])
}

func TestTickSubmitsNothingWhenIdle(t *testing.T) {
	s, st, sub := newTestScheduler(t, Config{GlobalInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, st.SaveRule(ctx, schedRule("a", rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 3600})))
	recordRun(t, st, "a", schedNow.Add(-time.Minute))

	s.tick()
	assert.Empty(t, sub.calls)
}

func TestPruneAppliesRetention(t *testing.T) {
	s, st, _ := newTestScheduler(t, Config{
		GlobalInterval: time.Hour,
		Prune: PruneConfig{
			Enabled:      true,
			RunLogMaxAge: 24 * time.Hour,
		},
	})
	ctx := context.Background()

	recordRun(t, st, "r1", schedNow.Add(-48*time.Hour))
	recordRun(t, st, "r1", schedNow.Add(-time.Hour))

	s.Prune(ctx)

	logs, err := st.QueryRunLogs(ctx, store.RunLogFilter{RuleID: "r1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, schedNow.Add(-time.Hour), logs[0].StartTime)
}
