package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mwald/warden/internal/library"
	"github.com/mwald/warden/internal/rule"
)

// verdict is the governance decision for one matched file, including
// the owner observed at decision time (the compare-and-set
// expectation for the later commit).
type verdict struct {
	hash     string
	eligible bool
	reason   string

	// expectPlacement / expectRating are the owning rule ids observed
	// when the decision was made; empty means unowned.
	expectPlacement string
	expectRating    string
}

// partition decides per matched file whether the rule may act.
// AddTags, RemoveTags and ArchiveFile never consult governance;
// ForceIn and ModifyRating compete for ownership; AddTo defers to a
// strictly higher-precedence ForceIn owner without ever owning.
func (e *Engine) partition(ctx context.Context, r *rule.Rule, hashes []string, opts RunOptions) ([]verdict, error) {
	verdicts := make([]verdict, 0, len(hashes))

	switch act := r.Action.(type) {
	case rule.AddTags, rule.RemoveTags, rule.ArchiveFile:
		for _, h := range hashes {
			verdicts = append(verdicts, verdict{hash: h, eligible: true})
		}
		return verdicts, nil

	case rule.ForceIn:
		for _, h := range hashes {
			rec, err := e.store.GetGovernance(ctx, h)
			if err != nil {
				return nil, err
			}
			verdicts = append(verdicts, placementVerdict(h, placementOwner(rec), r, opts))
		}
		return verdicts, nil

	case rule.AddTo:
		for _, h := range hashes {
			rec, err := e.store.GetGovernance(ctx, h)
			if err != nil {
				return nil, err
			}
			verdicts = append(verdicts, placementVerdict(h, placementOwner(rec), r, opts))
		}
		return verdicts, nil

	case rule.ModifyRating:
		for _, h := range hashes {
			rec, err := e.store.GetGovernance(ctx, h)
			if err != nil {
				return nil, err
			}
			verdicts = append(verdicts, ratingVerdict(h, rec, act.Service, r, opts))
		}
		return verdicts, nil

	default:
		return nil, fmt.Errorf("unknown action type %T", r.Action)
	}
}

func placementOwner(rec *rule.GovernanceRecord) *rule.Owner {
	if rec == nil {
		return nil
	}
	return rec.Placement
}

// placementVerdict applies the precedence rule for placement scope.
// A lower priority value is higher precedence. The same decision
// serves ForceIn (which claims ownership) and AddTo (which only has
// to stay out of a stricter owner's way).
func placementVerdict(hash string, owner *rule.Owner, r *rule.Rule, opts RunOptions) verdict {
	v := verdict{hash: hash, eligible: true}
	if owner == nil {
		return v
	}
	v.expectPlacement = owner.RuleID

	if owner.RuleID == r.ID || opts.bypasses(r.ID) {
		return v
	}
	if owner.Priority < r.Priority {
		// Owner outranks the acting rule.
		v.eligible = false
		v.reason = fmt.Sprintf("placement owned by higher-precedence rule %s (priority %d)",
			owner.RuleID, owner.Priority)
		return v
	}
	// Equal-or-lower precedence owner: ForceIn takes over, AddTo
	// coexists.
	return v
}

func ratingVerdict(hash string, rec *rule.GovernanceRecord, service string, r *rule.Rule, opts RunOptions) verdict {
	v := verdict{hash: hash, eligible: true}
	if rec == nil {
		return v
	}
	owner, ok := rec.RatingOwners[service]
	if !ok {
		return v
	}
	v.expectRating = owner.RuleID

	if owner.RuleID == r.ID || opts.bypasses(r.ID) {
		return v
	}
	if owner.Priority < r.Priority {
		v.eligible = false
		v.reason = fmt.Sprintf("rating on %s owned by higher-precedence rule %s (priority %d)",
			service, owner.RuleID, owner.Priority)
	}
	return v
}

// commitResults turns per-file action outcomes into governance
// commits, counts and file events. A commit that loses its
// compare-and-set (the owner changed between partition and commit)
// marks the file failed; the action already happened and the log
// must say so.
func (e *Engine) commitResults(ctx context.Context, r *rule.Rule, logID string, verdicts []verdict, results []library.Result, counts *rule.RunCounts) []rule.FileEvent {
	byHash := make(map[string]verdict, len(verdicts))
	for _, v := range verdicts {
		byHash[v.hash] = v
	}
	now := e.now()
	owner := rule.Owner{RuleID: r.ID, Priority: r.Priority}

	events := []rule.FileEvent{}
	for _, res := range results {
		if !res.OK() {
			counts.Failed++
			events = append(events, rule.FileEvent{
				RunLogID: logID,
				Hash:     res.Hash,
				Status:   rule.FileEventFailed,
				Detail:   res.Err,
			})
			continue
		}

		v := byHash[res.Hash]
		committed, err := e.commitOne(ctx, r, v, owner, now)
		if err != nil {
			counts.Failed++
			events = append(events, rule.FileEvent{
				RunLogID: logID,
				Hash:     res.Hash,
				Status:   rule.FileEventFailed,
				Detail:   "governance commit: " + err.Error(),
			})
			continue
		}
		if !committed {
			counts.Failed++
			events = append(events, rule.FileEvent{
				RunLogID: logID,
				Hash:     res.Hash,
				Status:   rule.FileEventFailed,
				Detail:   "governance owner changed during run",
			})
			continue
		}

		counts.Succeed++
		events = append(events, rule.FileEvent{
			RunLogID: logID,
			Hash:     res.Hash,
			Status:   rule.FileEventActioned,
		})
	}
	return events
}

func (e *Engine) commitOne(ctx context.Context, r *rule.Rule, v verdict, owner rule.Owner, now time.Time) (bool, error) {
	switch act := r.Action.(type) {
	case rule.ForceIn:
		return e.store.CommitPlacement(ctx, v.hash, v.expectPlacement, owner, act.Destinations, now)
	case rule.AddTo:
		return e.store.MergePlacement(ctx, v.hash, v.expectPlacement, act.Destinations, now)
	case rule.ModifyRating:
		return e.store.CommitRating(ctx, v.hash, act.Service, v.expectRating, owner, now)
	default:
		// Ungoverned actions have nothing to record.
		return true, nil
	}
}
