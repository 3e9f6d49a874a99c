package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwald/warden/internal/rule"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRule(id string, priority int) *rule.Rule {
	return &rule.Rule{
		ID:       id,
		Name:     "rule " + id,
		Priority: priority,
		Conditions: []rule.Condition{
			rule.Boolean{Flag: rule.FlagInbox, Value: true},
		},
		Action:    rule.ArchiveFile{},
		Schedule:  rule.Schedule{Mode: rule.ScheduleDefault},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestRuleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := testRule("r1", 5)
	r.Action = rule.ForceIn{Destinations: []string{"f1"}}
	r.DeepCheck = rule.DeepCheck{Mode: rule.DeepCheckEveryNRun, EveryN: 3}
	require.NoError(t, s.SaveRule(ctx, r))

	got, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r.Name, got.Name)
	assert.Equal(t, r.Conditions, got.Conditions)
	assert.Equal(t, r.Action, got.Action)
	assert.Equal(t, r.DeepCheck, got.DeepCheck)
	assert.Equal(t, r.CreatedAt, got.CreatedAt)

	// Replace preserves the run counter.
	require.NoError(t, s.IncrementRunCount(ctx, "r1"))
	r.Name = "renamed"
	require.NoError(t, s.SaveRule(ctx, r))

	got, err = s.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 1, got.RunCount)

	require.NoError(t, s.ResetRunCount(ctx, "r1"))
	got, err = s.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RunCount)
}

func TestGetRuleNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRule(context.Background(), "ghost")
	require.Error(t, err)

	var nf *ErrNotFound
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ghost", nf.ID)
}

func TestListRulesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRule(ctx, testRule("b", 5)))
	require.NoError(t, s.SaveRule(ctx, testRule("a", 5)))
	require.NoError(t, s.SaveRule(ctx, testRule("c", 1)))

	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "c", rules[0].ID)
	assert.Equal(t, "a", rules[1].ID)
	assert.Equal(t, "b", rules[2].ID)

	empty, err := openTestStore(t).ListRules(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSetsAndAssociations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRule(ctx, testRule("r1", 1)))
	require.NoError(t, s.SaveRule(ctx, testRule("r2", 2)))

	set := &rule.RuleSet{ID: "nightly", Name: "nightly batch",
		Schedule: rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 3600}}
	require.NoError(t, s.SaveSet(ctx, set))

	require.NoError(t, s.Associate(ctx, "r2", "nightly", 0))
	require.NoError(t, s.Associate(ctx, "r1", "nightly", 1))

	members, err := s.SetMembers(ctx, "nightly")
	require.NoError(t, err)
	require.Len(t, members, 2)
	// Association position, not priority, orders members.
	assert.Equal(t, "r2", members[0].ID)
	assert.Equal(t, "r1", members[1].ID)

	// Deleting a rule cascades its association.
	require.NoError(t, s.DeleteRule(ctx, "r2"))
	members, err = s.SetMembers(ctx, "nightly")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "r1", members[0].ID)

	// Deleting the set removes associations but not the rule.
	require.NoError(t, s.DeleteSet(ctx, "nightly"))
	_, err = s.GetRule(ctx, "r1")
	assert.NoError(t, err)

	assocs, err := s.Associations(ctx)
	require.NoError(t, err)
	assert.Empty(t, assocs)
}

func TestPlacementOwnershipCAS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Unowned file: claim succeeds.
	committed, err := s.CommitPlacement(ctx, "hash1", "",
		rule.Owner{RuleID: "r1", Priority: 10}, []string{"f1"}, now)
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err := s.GetGovernance(ctx, "hash1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Placement)
	assert.Equal(t, "r1", rec.Placement.RuleID)
	assert.Equal(t, 10, rec.Placement.Priority)
	assert.Equal(t, []string{"f1"}, rec.CorrectPlacement)

	// Stale expectation loses.
	committed, err = s.CommitPlacement(ctx, "hash1", "",
		rule.Owner{RuleID: "r2", Priority: 5}, []string{"f2"}, now)
	require.NoError(t, err)
	assert.False(t, committed)

	rec, err = s.GetGovernance(ctx, "hash1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.Placement.RuleID)

	// Correct expectation transfers ownership.
	committed, err = s.CommitPlacement(ctx, "hash1", "r1",
		rule.Owner{RuleID: "r2", Priority: 5}, []string{"f2"}, now)
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err = s.GetGovernance(ctx, "hash1")
	require.NoError(t, err)
	assert.Equal(t, "r2", rec.Placement.RuleID)
	assert.Equal(t, []string{"f2"}, rec.CorrectPlacement)
}

func TestMergePlacement(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Lazily creates the unowned record.
	committed, err := s.MergePlacement(ctx, "hash1", "", []string{"f1"}, now)
	require.NoError(t, err)
	assert.True(t, committed)

	committed, err = s.MergePlacement(ctx, "hash1", "", []string{"f1", "f2"}, now)
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err := s.GetGovernance(ctx, "hash1")
	require.NoError(t, err)
	assert.Nil(t, rec.Placement)
	assert.Equal(t, []string{"f1", "f2"}, rec.CorrectPlacement)

	// A merge that observed a stale owner is refused.
	committed, err = s.MergePlacement(ctx, "hash1", "r9", []string{"f3"}, now)
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestRatingOwnershipCAS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	committed, err := s.CommitRating(ctx, "hash1", "stars", "",
		rule.Owner{RuleID: "r1", Priority: 10}, now)
	require.NoError(t, err)
	assert.True(t, committed)

	// Ownership is per service: a second service is independent.
	committed, err = s.CommitRating(ctx, "hash1", "fav", "",
		rule.Owner{RuleID: "r2", Priority: 20}, now)
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err := s.GetGovernance(ctx, "hash1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.RatingOwners["stars"].RuleID)
	assert.Equal(t, "r2", rec.RatingOwners["fav"].RuleID)

	// Stale expectation for an owned service loses.
	committed, err = s.CommitRating(ctx, "hash1", "stars", "",
		rule.Owner{RuleID: "r3", Priority: 1}, now)
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestRunLogLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry := &rule.RunLogEntry{
		ID:          "log1",
		ParentRunID: "pass1",
		RuleID:      "r1",
		RuleName:    "archive inbox",
		StartTime:   start,
	}
	require.NoError(t, s.StartRunLog(ctx, entry))

	running, err := s.QueryRunLogs(ctx, RunLogFilter{Status: rule.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)

	entry.EndTime = start.Add(2 * time.Second)
	entry.Status = rule.RunStatusSuccess
	entry.Counts = rule.RunCounts{Matched: 10, Eligible: 8, Succeed: 7, Failed: 1, Skipped: 2, RecentlyViewed: 3}
	entry.Warnings = []rule.Warning{{Level: rule.WarnInfo, Message: "note"}}
	entry.Summary = "actioned 7 of 10"
	require.NoError(t, s.FinishRunLog(ctx, entry))

	got, err := s.QueryRunLogs(ctx, RunLogFilter{RuleID: "r1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rule.RunStatusSuccess, got[0].Status)
	assert.Equal(t, entry.Counts, got[0].Counts)
	assert.Equal(t, entry.Warnings, got[0].Warnings)
	assert.Equal(t, entry.EndTime, got[0].EndTime)

	last, ok, err := s.LastRunTime(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, start, last)

	_, ok, err = s.LastRunTime(ctx, "never-ran")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := s.StatsForRule(ctx, "r1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 10, stats.Matched)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 3, stats.RecentlyViewed)
}

func TestFileEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := &rule.RunLogEntry{ID: "log1", RuleID: "r1", RuleName: "n", StartTime: time.Now()}
	require.NoError(t, s.StartRunLog(ctx, entry))

	require.NoError(t, s.AppendFileEvents(ctx, []rule.FileEvent{
		{RunLogID: "log1", Hash: "h1", Status: rule.FileEventActioned},
		{RunLogID: "log1", Hash: "h2", Status: rule.FileEventFailed, Detail: "timeout"},
		{RunLogID: "log1", Hash: "h1", Status: rule.FileEventSkipped},
	}))

	byRun, err := s.FileEventsByRun(ctx, "log1")
	require.NoError(t, err)
	require.Len(t, byRun, 3)
	assert.Equal(t, "h1", byRun[0].Hash)

	byHash, err := s.FileEventsByHash(ctx, "h1", 0)
	require.NoError(t, err)
	require.Len(t, byHash, 2)
	// Newest first.
	assert.Equal(t, rule.FileEventSkipped, byHash[0].Status)
}

func TestPruning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old1", "old2", "new1", "new2", "new3"} {
		e := &rule.RunLogEntry{ID: id, RuleID: "r1", RuleName: "n",
			StartTime: base.AddDate(0, 0, i)}
		require.NoError(t, s.StartRunLog(ctx, e))
	}

	removed, err := s.PruneRunLogsByAge(ctx, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	removed, err = s.PruneRunLogsByCount(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	left, err := s.QueryRunLogs(ctx, RunLogFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "new3", left[0].ID)
	assert.Equal(t, "new2", left[1].ID)
}

func TestPruneDuplicateFileEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := &rule.RunLogEntry{ID: "log1", RuleID: "r1", RuleName: "n", StartTime: time.Now()}
	require.NoError(t, s.StartRunLog(ctx, entry))

	require.NoError(t, s.AppendFileEvents(ctx, []rule.FileEvent{
		{RunLogID: "log1", Hash: "h1", Status: rule.FileEventSkipped},
		{RunLogID: "log1", Hash: "h1", Status: rule.FileEventSkipped},
		{RunLogID: "log1", Hash: "h1", Status: rule.FileEventActioned},
		{RunLogID: "log1", Hash: "h2", Status: rule.FileEventSkipped},
	}))

	removed, err := s.PruneDuplicateFileEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	events, err := s.FileEventsByHash(ctx, "h1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAppState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetAppState(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetAppState(ctx, "k", "v1"))
	require.NoError(t, s.SetAppState(ctx, "k", "v2"))

	v, ok, err := s.GetAppState(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestPruneGovernance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.CommitPlacement(ctx, "stale", "", rule.Owner{RuleID: "r1"}, nil, old)
	require.NoError(t, err)
	_, err = s.CommitPlacement(ctx, "fresh", "", rule.Owner{RuleID: "r1"}, nil, recent)
	require.NoError(t, err)

	removed, err := s.PruneGovernance(ctx, recent.AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	rec, err := s.GetGovernance(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
