// Package engine executes warden rules: it owns the single serialized
// run lane, the per-rule pass pipeline (translate, search, govern,
// act, commit, log) and read-only impact estimation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/library"
	"github.com/mwald/warden/internal/rule"
	"github.com/mwald/warden/internal/store"
)

// RunOptions tune one triggered run.
type RunOptions struct {
	// BypassOverride lists rule ids allowed to act regardless of
	// recorded governance owners. The acting rule still records itself
	// as the new owner.
	BypassOverride []string

	// Deep forces a deep re-check on this run's ForceIn rules,
	// independent of their persisted counters.
	Deep bool

	// Scheduled marks a scheduler-originated run. Only scheduled runs
	// advance the deep-check counters.
	Scheduled bool
}

func (o RunOptions) equal(other RunOptions) bool {
	if o.Deep != other.Deep || o.Scheduled != other.Scheduled {
		return false
	}
	if len(o.BypassOverride) != len(other.BypassOverride) {
		return false
	}
	for i := range o.BypassOverride {
		if o.BypassOverride[i] != other.BypassOverride[i] {
			return false
		}
	}
	return true
}

func (o RunOptions) bypasses(ruleID string) bool {
	for _, id := range o.BypassOverride {
		if id == ruleID {
			return true
		}
	}
	return false
}

// RuleRunResult is the outcome of one rule within a pass.
type RuleRunResult struct {
	LogID    string
	RuleID   string
	RuleName string
	Status   rule.RunStatus
	Counts   rule.RunCounts
	Warnings []rule.Warning
	Err      *RunError
}

// PassResult aggregates a whole triggered pass. Success is the AND of
// member statuses.
type PassResult struct {
	ParentRunID string
	Success     bool
	Rules       []RuleRunResult
}

// Engine is the single writer of governance and run-log state. Start
// its worker with Run; trigger work with RunRule/RunSet/RunAll or the
// scheduler's SubmitDue.
type Engine struct {
	store    *store.Store
	search   library.Search
	actions  library.Actioner
	services catalog.Provider
	metrics  *Metrics
	log      *slog.Logger
	lane     *runLane

	recentView time.Duration

	now   func() time.Time
	newID func() string
}

// Config carries the optional engine collaborators.
type Config struct {
	Logger  *slog.Logger
	Metrics *Metrics

	// RecentViewThreshold excludes files viewed within this window
	// from every run. Zero disables the filter.
	RecentViewThreshold time.Duration

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// New wires an engine. store, search, actions and services are
// required.
func New(st *store.Store, search library.Search, actions library.Actioner, services catalog.Provider, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return &Engine{
		store:      st,
		search:     search,
		actions:    actions,
		services:   services,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		lane:       newRunLane(),
		recentView: cfg.RecentViewThreshold,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}
}

// Run consumes the lane until ctx is cancelled. It is the only
// goroutine that executes passes; run it once.
func (e *Engine) Run(ctx context.Context) error {
	defer e.lane.Close()

	for {
		t, ok := e.lane.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.lane.Wait():
				continue
			}
		}

		pass, err := e.executeTrigger(ctx, t)
		if t.done != nil {
			t.done <- laneResult{pass: pass, err: err}
		} else if err != nil {
			e.log.Error("triggered run failed", "kind", t.Kind, "id", t.ID, "error", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// SubmitDue enqueues a scheduled pass over the given rules without
// waiting for it. Identical pending submissions coalesce.
func (e *Engine) SubmitDue(ruleIDs []string, opts RunOptions) bool {
	opts.Scheduled = true
	return e.lane.Enqueue(Trigger{Kind: TriggerDue, RuleIDs: ruleIDs, Opts: opts})
}

// RunRule runs one rule through the lane and waits for its result.
func (e *Engine) RunRule(ctx context.Context, id string, opts RunOptions) (*PassResult, error) {
	return e.submitAndWait(ctx, Trigger{Kind: TriggerRule, ID: id, Opts: opts})
}

// RunSet runs a rule set through the lane and waits for its result.
func (e *Engine) RunSet(ctx context.Context, id string, opts RunOptions) (*PassResult, error) {
	return e.submitAndWait(ctx, Trigger{Kind: TriggerSet, ID: id, Opts: opts})
}

// RunAll runs every stored rule through the lane and waits.
func (e *Engine) RunAll(ctx context.Context, opts RunOptions) (*PassResult, error) {
	return e.submitAndWait(ctx, Trigger{Kind: TriggerAll, Opts: opts})
}

func (e *Engine) submitAndWait(ctx context.Context, t Trigger) (*PassResult, error) {
	t.done = make(chan laneResult, 1)
	if !e.lane.Enqueue(t) {
		return nil, fmt.Errorf("engine is shut down")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-t.done:
		return res.pass, res.err
	}
}

func (e *Engine) executeTrigger(ctx context.Context, t Trigger) (*PassResult, error) {
	rules, err := e.resolveTargets(ctx, t)
	if err != nil {
		return nil, err
	}
	return e.executePass(ctx, rules, t.Opts), nil
}

// resolveTargets loads the trigger's rules in pass execution order:
// ascending priority value, ties by rule id.
func (e *Engine) resolveTargets(ctx context.Context, t Trigger) ([]rule.Rule, error) {
	switch t.Kind {
	case TriggerRule:
		r, err := e.store.GetRule(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		return []rule.Rule{*r}, nil

	case TriggerSet:
		if _, err := e.store.GetSet(ctx, t.ID); err != nil {
			return nil, err
		}
		members, err := e.store.SetMembers(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		rule.SortByPrecedence(members)
		return members, nil

	case TriggerAll:
		return e.store.ListRules(ctx)

	case TriggerDue:
		return e.store.GetRules(ctx, t.RuleIDs)

	default:
		return nil, fmt.Errorf("unknown trigger kind %d", t.Kind)
	}
}
