package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/library"
	"github.com/mwald/warden/internal/predicate"
	"github.com/mwald/warden/internal/rule"
	"github.com/mwald/warden/internal/store"
)

// fakeLibrary implements library.Search, library.Actioner and
// catalog.Provider with canned responses.
type fakeLibrary struct {
	cat         *catalog.Catalog
	snapshotErr error

	hashes   []string
	queryErr error
	queries  int
	lastDeep bool

	recent        []string // hashes reported as recently viewed
	recentErr     error
	recentQueries int

	actionErr error
	failWith  map[string]string // hash -> per-file error
	applied   [][]string
}

func (f *fakeLibrary) Snapshot(ctx context.Context) (*catalog.Catalog, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.cat, nil
}

func (f *fakeLibrary) Query(ctx context.Context, q predicate.Query, limit int, deep bool) ([]string, error) {
	if isRecentViewQuery(q) {
		f.recentQueries++
		if f.recentErr != nil {
			return nil, f.recentErr
		}
		return append([]string{}, f.recent...), nil
	}
	f.queries++
	f.lastDeep = deep
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]string{}, f.hashes...), nil
}

func isRecentViewQuery(q predicate.Query) bool {
	if len(q) != 1 {
		return false
	}
	t, ok := q[0].(predicate.Term)
	return ok && strings.HasPrefix(string(t), "system:last viewed time >")
}

func (f *fakeLibrary) results(hashes []string) ([]library.Result, error) {
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	f.applied = append(f.applied, append([]string{}, hashes...))
	out := make([]library.Result, len(hashes))
	for i, h := range hashes {
		out[i] = library.Result{Hash: h, Err: f.failWith[h]}
	}
	return out, nil
}

func (f *fakeLibrary) ApplyPlacement(ctx context.Context, hashes, destinations []string, mode library.PlacementMode) ([]library.Result, error) {
	return f.results(hashes)
}

func (f *fakeLibrary) ApplyTags(ctx context.Context, hashes []string, service string, tags []string, mode library.TagMode) ([]library.Result, error) {
	return f.results(hashes)
}

func (f *fakeLibrary) ApplyRating(ctx context.Context, hashes []string, service string, value rule.RatingValue) ([]library.Result, error) {
	return f.results(hashes)
}

func (f *fakeLibrary) ApplyArchive(ctx context.Context, hashes []string) ([]library.Result, error) {
	return f.results(hashes)
}

func engineCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	return catalog.New([]catalog.Service{
		{Key: "f1", Name: "my files", Kind: catalog.KindLocalFileDomain},
		{Key: "f2", Name: "cold storage", Kind: catalog.KindLocalFileDomain},
		{Key: "t1", Name: "my tags", Kind: catalog.KindTagService},
		{Key: "r1", Name: "favourites", Kind: catalog.KindLikeDislike},
	})
}

func newTestEngine(t *testing.T, fake *fakeLibrary) (*Engine, *store.Store) {
	t.Helper()
	return newTestEngineWithThreshold(t, fake, 0)
}

func newTestEngineWithThreshold(t *testing.T, fake *fakeLibrary, recentView time.Duration) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ids := 0
	e := New(st, fake, fake, fake, Config{
		RecentViewThreshold: recentView,
		Now:                 func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) },
		NewID: func() string {
			ids++
			return string(rune('a'+ids-1)) + "-id"
		},
	})
	return e, st
}

func tagRule(id string, priority int) *rule.Rule {
	return &rule.Rule{
		ID:       id,
		Name:     "rule " + id,
		Priority: priority,
		Conditions: []rule.Condition{
			rule.Boolean{Flag: rule.FlagInbox, Value: true},
		},
		Action:   rule.AddTags{Service: "t1", Tags: []string{"seen"}},
		Schedule: rule.Schedule{Mode: rule.ScheduleDefault},
	}
}

func forceRule(id string, priority int) *rule.Rule {
	r := tagRule(id, priority)
	r.Action = rule.ForceIn{Destinations: []string{"f1"}}
	return r
}

func TestExecutePassTagRule(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1", "h2"}}
	e, st := newTestEngine(t, fake)
	ctx := context.Background()

	r := tagRule("r1", 5)
	require.NoError(t, st.SaveRule(ctx, r))

	pass := e.executePass(ctx, []rule.Rule{*r}, RunOptions{})
	require.True(t, pass.Success)
	require.Len(t, pass.Rules, 1)

	res := pass.Rules[0]
	assert.Equal(t, rule.RunStatusSuccess, res.Status)
	assert.Equal(t, 2, res.Counts.Matched)
	assert.Equal(t, 2, res.Counts.Eligible)
	assert.Equal(t, 2, res.Counts.Succeed)
	assert.Zero(t, res.Counts.Failed)

	logs, err := st.QueryRunLogs(ctx, store.RunLogFilter{RuleID: "r1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, rule.RunStatusSuccess, logs[0].Status)
	assert.Equal(t, pass.ParentRunID, logs[0].ParentRunID)

	events, err := st.FileEventsByRun(ctx, res.LogID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, rule.FileEventActioned, ev.Status)
	}
}

func TestExecutePassPartialFailureStaysSuccessful(t *testing.T) {
	fake := &fakeLibrary{
		cat:      engineCatalog(t),
		hashes:   []string{"h1", "h2", "h3"},
		failWith: map[string]string{"h2": "file is corrupt"},
	}
	e, _ := newTestEngine(t, fake)

	r := tagRule("r1", 5)
	pass := e.executePass(context.Background(), []rule.Rule{*r}, RunOptions{})
	require.True(t, pass.Success)

	res := pass.Rules[0]
	assert.Equal(t, rule.RunStatusSuccess, res.Status)
	assert.Equal(t, 2, res.Counts.Succeed)
	assert.Equal(t, 1, res.Counts.Failed)
}

func TestExecutePassGovernanceSkip(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1", "h2"}}
	e, st := newTestEngine(t, fake)
	ctx := context.Background()

	// h1 is already owned by a stricter rule.
	committed, err := st.CommitPlacement(ctx, "h1", "",
		rule.Owner{RuleID: "top", Priority: 1}, []string{"f2"}, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, committed)

	r := forceRule("r9", 5)
	pass := e.executePass(ctx, []rule.Rule{*r}, RunOptions{})
	require.True(t, pass.Success)

	res := pass.Rules[0]
	assert.Equal(t, 2, res.Counts.Matched)
	assert.Equal(t, 1, res.Counts.Eligible)
	assert.Equal(t, 1, res.Counts.Succeed)
	assert.Equal(t, 1, res.Counts.Skipped)

	// Only h2 reached the library.
	require.Len(t, fake.applied, 1)
	assert.Equal(t, []string{"h2"}, fake.applied[0])

	// h2 is now owned by r9; h1 keeps its owner.
	rec, err := st.GetGovernance(ctx, "h2")
	require.NoError(t, err)
	require.NotNil(t, rec.Placement)
	assert.Equal(t, "r9", rec.Placement.RuleID)

	rec, err = st.GetGovernance(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "top", rec.Placement.RuleID)
}

func TestExecutePassBypassOverride(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1"}}
	e, st := newTestEngine(t, fake)
	ctx := context.Background()

	_, err := st.CommitPlacement(ctx, "h1", "",
		rule.Owner{RuleID: "top", Priority: 1}, []string{"f2"}, time.Now().UTC())
	require.NoError(t, err)

	r := forceRule("r9", 5)
	pass := e.executePass(ctx, []rule.Rule{*r}, RunOptions{BypassOverride: []string{"r9"}})
	require.True(t, pass.Success)
	assert.Equal(t, 1, pass.Rules[0].Counts.Succeed)
	assert.Zero(t, pass.Rules[0].Counts.Skipped)

	rec, err := st.GetGovernance(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "r9", rec.Placement.RuleID)
	assert.Equal(t, 5, rec.Placement.Priority)
}

func TestExecutePassTakesOverLowerPrecedenceOwner(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1"}}
	e, st := newTestEngine(t, fake)
	ctx := context.Background()

	_, err := st.CommitPlacement(ctx, "h1", "",
		rule.Owner{RuleID: "weak", Priority: 9}, []string{"f2"}, time.Now().UTC())
	require.NoError(t, err)

	r := forceRule("r1", 5)
	pass := e.executePass(ctx, []rule.Rule{*r}, RunOptions{})
	require.True(t, pass.Success)
	assert.Equal(t, 1, pass.Rules[0].Counts.Succeed)

	rec, err := st.GetGovernance(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.Placement.RuleID)
}

func TestExecutePassInfrastructureAborts(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), queryErr: context.DeadlineExceeded}
	e, _ := newTestEngine(t, fake)

	r1 := tagRule("r1", 1)
	r2 := tagRule("r2", 2)
	pass := e.executePass(context.Background(), []rule.Rule{*r1, *r2}, RunOptions{})

	require.False(t, pass.Success)
	require.Len(t, pass.Rules, 1, "second rule must not run after an infrastructure failure")
	require.NotNil(t, pass.Rules[0].Err)
	assert.Equal(t, ErrCodeInfrastructure, pass.Rules[0].Err.Code)
}

func TestExecutePassSnapshotFailureFailsAllRules(t *testing.T) {
	fake := &fakeLibrary{snapshotErr: context.DeadlineExceeded}
	e, _ := newTestEngine(t, fake)

	pass := e.executePass(context.Background(),
		[]rule.Rule{*tagRule("r1", 1), *tagRule("r2", 2)}, RunOptions{})

	require.False(t, pass.Success)
	require.Len(t, pass.Rules, 2)
	for _, res := range pass.Rules {
		require.NotNil(t, res.Err)
		assert.Equal(t, ErrCodeInfrastructure, res.Err.Code)
	}
}

func TestExecutePassCriticalWarningFailsRun(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1"}}
	e, _ := newTestEngine(t, fake)

	r := tagRule("r1", 5)
	r.Conditions = []rule.Condition{
		rule.RawPredicateBlock{Text: "# comments only\n"},
	}
	pass := e.executePass(context.Background(), []rule.Rule{*r}, RunOptions{})

	require.False(t, pass.Success)
	res := pass.Rules[0]
	assert.Equal(t, rule.RunStatusFailure, res.Status)
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeTranslation, res.Err.Code)
	assert.Zero(t, fake.queries, "no search may be issued after a critical warning")
}

func TestExecutePassUnknownServiceFailsRun(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1"}}
	e, _ := newTestEngine(t, fake)

	r := tagRule("r1", 5)
	r.Action = rule.AddTags{Service: "no such service", Tags: []string{"x"}}
	pass := e.executePass(context.Background(), []rule.Rule{*r}, RunOptions{})

	require.False(t, pass.Success)
	require.NotNil(t, pass.Rules[0].Err)
	assert.Equal(t, ErrCodeServiceNotFound, pass.Rules[0].Err.Code)
}

func TestDeepCheckCounterAdvancesOnScheduledRuns(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{}}
	e, st := newTestEngine(t, fake)
	ctx := context.Background()

	r := forceRule("r1", 5)
	r.DeepCheck = rule.DeepCheck{Mode: rule.DeepCheckEveryNRun, EveryN: 2}
	require.NoError(t, st.SaveRule(ctx, r))

	// First scheduled run: not yet due, counter moves to 1.
	pass := e.executePass(ctx, []rule.Rule{*r}, RunOptions{Scheduled: true})
	require.True(t, pass.Success)
	assert.False(t, fake.lastDeep)

	got, err := st.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)

	// Second scheduled run: due, runs deep, counter resets.
	pass = e.executePass(ctx, []rule.Rule{*got}, RunOptions{Scheduled: true})
	require.True(t, pass.Success)
	assert.True(t, fake.lastDeep)

	got, err = st.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, got.RunCount)
}

func TestManualRunsLeaveDeepCounterAlone(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{}}
	e, st := newTestEngine(t, fake)
	ctx := context.Background()

	r := forceRule("r1", 5)
	r.DeepCheck = rule.DeepCheck{Mode: rule.DeepCheckEveryNRun, EveryN: 3}
	require.NoError(t, st.SaveRule(ctx, r))

	pass := e.executePass(ctx, []rule.Rule{*r}, RunOptions{Deep: true})
	require.True(t, pass.Success)
	assert.True(t, fake.lastDeep)

	got, err := st.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, got.RunCount)
}

func TestRecentlyViewedFilesAreSkipped(t *testing.T) {
	fake := &fakeLibrary{
		cat:    engineCatalog(t),
		hashes: []string{"h1", "h2", "h3"},
		recent: []string{"h2", "h9"}, // h9 never matched, must not count
	}
	e, st := newTestEngineWithThreshold(t, fake, time.Hour)
	ctx := context.Background()

	r := tagRule("r1", 5)
	pass := e.executePass(ctx, []rule.Rule{*r}, RunOptions{})
	require.True(t, pass.Success)

	res := pass.Rules[0]
	assert.Equal(t, 3, res.Counts.Matched)
	assert.Equal(t, 1, res.Counts.RecentlyViewed)
	assert.Equal(t, 2, res.Counts.Eligible)
	assert.Equal(t, 2, res.Counts.Succeed)
	assert.Equal(t, 1, fake.recentQueries)

	// h2 never reached the library action.
	require.Len(t, fake.applied, 1)
	assert.Equal(t, []string{"h1", "h3"}, fake.applied[0])

	events, err := st.FileEventsByHash(ctx, "h2", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, rule.FileEventRecentView, events[0].Status)

	// The count survives in the persisted run log.
	logs, err := st.QueryRunLogs(ctx, store.RunLogFilter{RuleID: "r1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].Counts.RecentlyViewed)
}

func TestRecentViewFilterDisabledByDefault(t *testing.T) {
	fake := &fakeLibrary{
		cat:    engineCatalog(t),
		hashes: []string{"h1"},
		recent: []string{"h1"},
	}
	e, _ := newTestEngine(t, fake)

	pass := e.executePass(context.Background(), []rule.Rule{*tagRule("r1", 5)}, RunOptions{})
	require.True(t, pass.Success)
	assert.Equal(t, 1, pass.Rules[0].Counts.Succeed)
	assert.Zero(t, pass.Rules[0].Counts.RecentlyViewed)
	assert.Zero(t, fake.recentQueries, "zero threshold must not issue a recency query")
}

func TestRecentViewLookupFailureDoesNotBlockRun(t *testing.T) {
	fake := &fakeLibrary{
		cat:       engineCatalog(t),
		hashes:    []string{"h1"},
		recentErr: context.DeadlineExceeded,
	}
	e, _ := newTestEngineWithThreshold(t, fake, time.Hour)

	pass := e.executePass(context.Background(), []rule.Rule{*tagRule("r1", 5)}, RunOptions{})
	require.True(t, pass.Success)
	assert.Equal(t, 1, pass.Rules[0].Counts.Succeed)
	assert.Zero(t, pass.Rules[0].Counts.RecentlyViewed)
}

func TestEstimateImpactAppliesRecentViewFilter(t *testing.T) {
	fake := &fakeLibrary{
		cat:    engineCatalog(t),
		hashes: []string{"h1", "h2"},
		recent: []string{"h1"},
	}
	e, st := newTestEngineWithThreshold(t, fake, time.Hour)
	ctx := context.Background()

	require.NoError(t, st.SaveRule(ctx, tagRule("r1", 5)))

	est, err := e.EstimateImpact(ctx, "r1", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, est.Matched, "matched reports the raw search result")
	assert.Equal(t, 1, est.RecentlyViewed)
	assert.Equal(t, []string{"h2"}, est.Eligible)
	assert.Empty(t, fake.applied)
}

func TestRunSetAggregatesMemberResults(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1"}}
	e, st := newTestEngine(t, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good := tagRule("tagger", 2)
	bad := tagRule("broken", 1)
	bad.Action = rule.AddTags{Service: "no such service", Tags: []string{"x"}}
	require.NoError(t, st.SaveRule(ctx, good))
	require.NoError(t, st.SaveRule(ctx, bad))
	require.NoError(t, st.SaveSet(ctx, &rule.RuleSet{
		ID:       "nightly",
		Name:     "Nightly batch",
		Schedule: rule.Schedule{Mode: rule.ScheduleDefault},
	}))
	// Associated in reverse precedence order; the pass must re-sort.
	require.NoError(t, st.Associate(ctx, "tagger", "nightly", 0))
	require.NoError(t, st.Associate(ctx, "broken", "nightly", 1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	pass, err := e.RunSet(ctx, "nightly", RunOptions{})
	require.NoError(t, err)

	require.Len(t, pass.Rules, 2)
	assert.Equal(t, "broken", pass.Rules[0].RuleID, "priority 1 member runs first")
	assert.Equal(t, "tagger", pass.Rules[1].RuleID)

	// Member outcomes are independent; the set fails as a whole.
	assert.Equal(t, rule.RunStatusFailure, pass.Rules[0].Status)
	require.NotNil(t, pass.Rules[0].Err)
	assert.Equal(t, ErrCodeServiceNotFound, pass.Rules[0].Err.Code)
	assert.Equal(t, rule.RunStatusSuccess, pass.Rules[1].Status)
	assert.Equal(t, 1, pass.Rules[1].Counts.Succeed)
	assert.False(t, pass.Success)

	// Both members share the pass's parent run id in the log.
	logs, err := st.QueryRunLogs(ctx, store.RunLogFilter{ParentRunID: pass.ParentRunID})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	_, err = e.RunSet(ctx, "missing", RunOptions{})
	require.Error(t, err)

	cancel()
	<-done
}

func TestRunRuleThroughLane(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1"}}
	e, st := newTestEngine(t, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, st.SaveRule(ctx, tagRule("r1", 5)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	pass, err := e.RunRule(ctx, "r1", RunOptions{})
	require.NoError(t, err)
	require.True(t, pass.Success)
	assert.Equal(t, 1, pass.Rules[0].Counts.Succeed)

	_, err = e.RunRule(ctx, "missing", RunOptions{})
	require.Error(t, err)

	cancel()
	<-done
}

func TestSubmitDueCoalesces(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t)}
	e, _ := newTestEngine(t, fake)

	require.True(t, e.SubmitDue([]string{"r1", "r2"}, RunOptions{}))
	require.False(t, e.SubmitDue([]string{"r1", "r2"}, RunOptions{}))
	assert.Equal(t, 1, e.lane.Len())

	// A different rule list is new work.
	require.True(t, e.SubmitDue([]string{"r3"}, RunOptions{}))
	assert.Equal(t, 2, e.lane.Len())
}

func TestEstimateImpactIsReadOnly(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t), hashes: []string{"h1", "h2"}}
	e, st := newTestEngine(t, fake)
	ctx := context.Background()

	_, err := st.CommitPlacement(ctx, "h1", "",
		rule.Owner{RuleID: "top", Priority: 1}, []string{"f2"}, time.Now().UTC())
	require.NoError(t, err)

	r := forceRule("r9", 5)
	require.NoError(t, st.SaveRule(ctx, r))

	est, err := e.EstimateImpact(ctx, "r9", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, est.Matched)
	assert.Equal(t, []string{"h2"}, est.Eligible)
	require.Len(t, est.Skipped, 1)
	assert.Equal(t, "h1", est.Skipped[0].Hash)
	assert.Contains(t, est.Skipped[0].Reason, "top")

	// No actions, no logs, no governance writes.
	assert.Empty(t, fake.applied)
	logs, err := st.QueryRunLogs(ctx, store.RunLogFilter{RuleID: "r9"})
	require.NoError(t, err)
	assert.Empty(t, logs)
	rec, err := st.GetGovernance(ctx, "h2")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEstimateImpactMissingRule(t *testing.T) {
	fake := &fakeLibrary{cat: engineCatalog(t)}
	e, _ := newTestEngine(t, fake)

	_, err := e.EstimateImpact(context.Background(), "nope", RunOptions{})
	require.Error(t, err)
	var nf *store.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}
