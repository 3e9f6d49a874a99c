package engine

import (
	"context"

	"github.com/mwald/warden/internal/rule"
)

// deepRunDue reports whether a scheduled run of r should be a deep
// re-check. Only ForceIn rules carry a deep-check policy; the counter
// counts scheduled runs since the last deep one, so a rule configured
// for every_n_runs goes deep when this run would be the nth.
func deepRunDue(r *rule.Rule) bool {
	switch r.DeepCheck.Mode {
	case rule.DeepCheckEveryRun:
		return true
	case rule.DeepCheckEveryNRun:
		return r.RunCount+1 >= r.DeepCheck.EveryN
	default:
		return false
	}
}

// advanceDeepCounter updates the persisted scheduled-run counter after
// a scheduled pass: back to zero when the deep check fired, plus one
// otherwise. Manual runs never reach here.
func (e *Engine) advanceDeepCounter(ctx context.Context, r *rule.Rule, deepFired bool) error {
	if r.DeepCheck.Mode == rule.DeepCheckNever || r.DeepCheck.Mode == "" {
		return nil
	}
	if deepFired {
		return e.store.ResetRunCount(ctx, r.ID)
	}
	return e.store.IncrementRunCount(ctx, r.ID)
}
