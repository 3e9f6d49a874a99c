package engine

import (
	"context"
	"fmt"

	"github.com/mwald/warden/internal/predicate"
	"github.com/mwald/warden/internal/rule"
)

// SkippedFile names a matched file the rule would not touch and why.
type SkippedFile struct {
	Hash   string `json:"hash"`
	Reason string `json:"reason"`
}

// Estimate is a dry-run preview of a rule: what would match, what
// would be acted on, what governance would skip. Nothing is written
// and no counters move.
type Estimate struct {
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Deep     bool           `json:"deep"`
	Warnings []rule.Warning `json:"warnings,omitempty"`
	Matched  []string       `json:"matched"`
	Eligible []string       `json:"eligible"`
	Skipped  []SkippedFile  `json:"skipped"`

	// RecentlyViewed counts matched files the view-recency filter
	// would exclude before governance.
	RecentlyViewed int `json:"skipped_recent_view"`
}

// EstimateImpact runs the read-only half of the pipeline (translate,
// search, governance partition) for one rule. It bypasses the run
// lane; estimation is safe alongside a live pass.
func (e *Engine) EstimateImpact(ctx context.Context, ruleID string, opts RunOptions) (*Estimate, error) {
	r, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	cat, err := e.services.Snapshot(ctx)
	if err != nil {
		return nil, infrastructureError(ruleID, fmt.Errorf("catalog snapshot: %w", err))
	}

	deep := opts.Deep || deepRunDue(r)
	set, warnings, err := predicate.Translate(r, cat, predicate.Options{Deep: deep})
	if err != nil {
		return nil, classifyRunError(ruleID, err)
	}
	est := &Estimate{
		RuleID:   r.ID,
		RuleName: r.Name,
		Deep:     deep,
		Warnings: warnings,
		Matched:  []string{},
		Eligible: []string{},
		Skipped:  []SkippedFile{},
	}
	if criticals := rule.CriticalWarnings(warnings); len(criticals) > 0 {
		return est, &RunError{
			Code:    ErrCodeTranslation,
			Message: criticals[0].Message,
			RuleID:  r.ID,
		}
	}

	hashes, err := e.searchAll(ctx, set, deep)
	if err != nil {
		return nil, infrastructureError(ruleID, err)
	}
	est.Matched = hashes

	hashes, recent := e.filterRecentlyViewed(ctx, hashes)
	est.RecentlyViewed = len(recent)

	verdicts, err := e.partition(ctx, r, hashes, opts)
	if err != nil {
		return nil, infrastructureError(ruleID, fmt.Errorf("governance read: %w", err))
	}
	for _, v := range verdicts {
		if v.eligible {
			est.Eligible = append(est.Eligible, v.hash)
		} else {
			est.Skipped = append(est.Skipped, SkippedFile{Hash: v.hash, Reason: v.reason})
		}
	}
	return est, nil
}
