// Package scheduler turns the stored interval hierarchy into engine
// triggers. A cron-driven tick computes which rules are due and
// submits them as one coalescing pass; a nightly job applies the
// retention policy to run logs and governance records.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mwald/warden/internal/engine"
	"github.com/mwald/warden/internal/rule"
	"github.com/mwald/warden/internal/store"
)

// Submitter is the engine surface the scheduler needs.
type Submitter interface {
	SubmitDue(ruleIDs []string, opts engine.RunOptions) bool
}

// PruneConfig is the nightly retention policy. Zero values disable
// the corresponding pruning.
type PruneConfig struct {
	Enabled bool

	// RunLogMaxAge deletes run log entries older than this.
	RunLogMaxAge time.Duration

	// RunLogKeepPerRule keeps only the newest N entries per rule.
	RunLogKeepPerRule int

	// DedupeFileEvents collapses repeated identical per-file outcomes.
	DedupeFileEvents bool

	// GovernanceMaxAge deletes governance records untouched for this
	// long. Pruned files simply re-enter governance on their next
	// governed action.
	GovernanceMaxAge time.Duration
}

// Config tunes the scheduler.
type Config struct {
	// Tick is the due-rule polling interval. Defaults to 10s.
	Tick time.Duration

	// GlobalInterval is the default execution interval for rules with
	// no custom override anywhere in their hierarchy.
	GlobalInterval time.Duration

	Prune PruneConfig

	Logger *slog.Logger
	Now    func() time.Time
}

// Scheduler owns the cron entries. Start it once; Stop drains it.
type Scheduler struct {
	store  *store.Store
	engine Submitter
	cron   *cron.Cron
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, eng Submitter, cfg Config) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Second
	}
	if cfg.GlobalInterval <= 0 {
		cfg.GlobalInterval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:  st,
		engine: eng,
		cron:   cron.New(),
		cfg:    cfg,
		log:    cfg.Logger,
		now:    cfg.Now,
	}
}

// Start registers the tick and pruning entries and launches the cron
// runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every "+s.cfg.Tick.String(), s.tick); err != nil {
		return err
	}
	if s.cfg.Prune.Enabled {
		if _, err := s.cron.AddFunc("0 3 * * *", s.runPrune); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for any in-flight job func to
// return. Already-submitted passes keep running in the engine.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Tick)
	defer cancel()

	due, err := s.DueRules(ctx)
	if err != nil {
		s.log.Error("due-rule computation failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	if s.engine.SubmitDue(due, engine.RunOptions{}) {
		s.log.Debug("scheduled pass submitted", "rules", len(due))
	}
}

// DueRules resolves every rule's effective interval through the
// hierarchy (rule custom > set custom > global default) and returns
// the ids whose last run is at least that far in the past, in stored
// precedence order. Rules set to none, or governed only by none-mode
// sets, never appear.
func (s *Scheduler) DueRules(ctx context.Context) ([]string, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	sets, err := s.store.ListSets(ctx)
	if err != nil {
		return nil, err
	}
	assocs, err := s.store.Associations(ctx)
	if err != nil {
		return nil, err
	}

	setSchedules := make(map[string]rule.Schedule, len(sets))
	for _, set := range sets {
		setSchedules[set.ID] = set.Schedule
	}
	memberOf := make(map[string][]rule.Schedule)
	for _, a := range assocs {
		if sched, ok := setSchedules[a.SetID]; ok {
			memberOf[a.RuleID] = append(memberOf[a.RuleID], sched)
		}
	}

	now := s.now()
	due := []string{}
	for _, r := range rules {
		interval, scheduled := s.effectiveInterval(&r, memberOf[r.ID])
		if !scheduled {
			continue
		}
		last, ok, err := s.store.LastRunTime(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if !ok || now.Sub(last) >= interval {
			due = append(due, r.ID)
		}
	}
	return due, nil
}

// effectiveInterval resolves one rule's interval. A custom rule
// override wins outright; otherwise any governing set with a custom
// interval wins (smallest across such sets); a rule governed only by
// none-mode sets, or set to none itself, is unscheduled; everything
// else falls to the global default.
func (s *Scheduler) effectiveInterval(r *rule.Rule, sets []rule.Schedule) (time.Duration, bool) {
	switch r.Schedule.Mode {
	case rule.ScheduleCustom:
		return time.Duration(r.Schedule.Seconds) * time.Second, true
	case rule.ScheduleNone:
		return 0, false
	}

	var best time.Duration
	custom := false
	noneOnly := false
	for _, sched := range sets {
		switch sched.Mode {
		case rule.ScheduleCustom:
			d := time.Duration(sched.Seconds) * time.Second
			if !custom || d < best {
				best = d
			}
			custom = true
		case rule.ScheduleNone:
			noneOnly = true
		}
	}
	if custom {
		return best, true
	}
	if noneOnly {
		return 0, false
	}
	return s.cfg.GlobalInterval, true
}

// runPrune applies the retention policy.
func (s *Scheduler) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	s.Prune(ctx)
}

// Prune runs every enabled retention step once.
func (s *Scheduler) Prune(ctx context.Context) {
	cfg := s.cfg.Prune
	now := s.now()

	if cfg.RunLogMaxAge > 0 {
		n, err := s.store.PruneRunLogsByAge(ctx, now.Add(-cfg.RunLogMaxAge))
		s.logPrune("run logs by age", n, err)
	}
	if cfg.RunLogKeepPerRule > 0 {
		n, err := s.store.PruneRunLogsByCount(ctx, cfg.RunLogKeepPerRule)
		s.logPrune("run logs by count", n, err)
	}
	if cfg.DedupeFileEvents {
		n, err := s.store.PruneDuplicateFileEvents(ctx)
		s.logPrune("duplicate file events", n, err)
	}
	if cfg.GovernanceMaxAge > 0 {
		n, err := s.store.PruneGovernance(ctx, now.Add(-cfg.GovernanceMaxAge))
		s.logPrune("governance records", n, err)
	}
}

func (s *Scheduler) logPrune(what string, n int64, err error) {
	if err != nil {
		s.log.Error("pruning failed", "target", what, "error", err)
		return
	}
	if n > 0 {
		s.log.Info("pruned", "target", what, "removed", n)
	}
}
