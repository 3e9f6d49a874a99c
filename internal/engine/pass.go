package engine

import (
	"context"
	"fmt"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/library"
	"github.com/mwald/warden/internal/predicate"
	"github.com/mwald/warden/internal/rule"
)

// executePass runs the rules strictly sequentially against one
// catalog snapshot. An infrastructure failure aborts the remaining
// rules; already-committed work stays committed.
func (e *Engine) executePass(ctx context.Context, rules []rule.Rule, opts RunOptions) *PassResult {
	pass := &PassResult{
		ParentRunID: e.newID(),
		Success:     true,
		Rules:       []RuleRunResult{},
	}
	e.log.Info("pass starting", "parent_run_id", pass.ParentRunID, "rules", len(rules))

	cat, err := e.services.Snapshot(ctx)
	if err != nil {
		// Without a catalog nothing can translate; fail every rule
		// up front rather than guessing.
		pass.Success = false
		for _, r := range rules {
			pass.Rules = append(pass.Rules, RuleRunResult{
				RuleID:   r.ID,
				RuleName: r.Name,
				Status:   rule.RunStatusFailure,
				Err:      infrastructureError(r.ID, fmt.Errorf("catalog snapshot: %w", err)),
			})
		}
		e.metrics.Passes.WithLabelValues("failure").Inc()
		return pass
	}

	aborted := false
	for i, r := range rules {
		if aborted {
			break
		}

		deep := opts.Deep || (opts.Scheduled && deepRunDue(&r))
		res := e.executeRule(ctx, &r, cat, pass.ParentRunID, i, opts, deep)
		pass.Rules = append(pass.Rules, res)

		if opts.Scheduled {
			if err := e.advanceDeepCounter(ctx, &r, deep); err != nil {
				e.log.Error("deep-check counter update failed", "rule", r.ID, "error", err)
			}
		}

		e.metrics.RuleRuns.WithLabelValues(string(res.Status)).Inc()
		if res.Status != rule.RunStatusSuccess {
			pass.Success = false
		}
		if res.Err != nil && res.Err.Code == ErrCodeInfrastructure {
			e.log.Error("library unreachable, aborting pass",
				"parent_run_id", pass.ParentRunID, "rule", r.ID, "error", res.Err.Message)
			aborted = true
		}
	}

	result := "success"
	if !pass.Success {
		result = "failure"
	}
	e.metrics.Passes.WithLabelValues(result).Inc()
	e.log.Info("pass finished", "parent_run_id", pass.ParentRunID, "success", pass.Success)
	return pass
}

// executeRule runs the full pipeline for one rule:
// translate -> search -> partition -> act -> commit -> log.
func (e *Engine) executeRule(ctx context.Context, r *rule.Rule, cat *catalog.Catalog, parentID string, order int, opts RunOptions, deep bool) RuleRunResult {
	res := RuleRunResult{
		LogID:    e.newID(),
		RuleID:   r.ID,
		RuleName: r.Name,
		Status:   rule.RunStatusSuccess,
	}
	log := e.log.With("rule", r.ID, "run_log_id", res.LogID)

	set, warnings, err := predicate.Translate(r, cat, predicate.Options{Deep: deep})
	res.Warnings = warnings
	if err != nil {
		res.Status = rule.RunStatusFailure
		res.Err = classifyRunError(r.ID, err)
		log.Warn("translation failed", "code", res.Err.Code, "error", err)
		e.recordFailedRun(ctx, &res, parentID, order, res.Err.Message)
		return res
	}
	if criticals := rule.CriticalWarnings(warnings); len(criticals) > 0 {
		res.Status = rule.RunStatusFailure
		res.Err = &RunError{
			Code:    ErrCodeTranslation,
			Message: criticals[0].Message,
			RuleID:  r.ID,
		}
		log.Warn("translation raised critical warnings", "count", len(criticals))
		e.recordFailedRun(ctx, &res, parentID, order, res.Err.Message)
		return res
	}

	entry := &rule.RunLogEntry{
		ID:          res.LogID,
		ParentRunID: parentID,
		RuleID:      r.ID,
		RuleName:    r.Name,
		ExecOrder:   order,
		StartTime:   e.now(),
		Warnings:    warnings,
	}
	if err := e.store.StartRunLog(ctx, entry); err != nil {
		log.Error("run log open failed", "error", err)
	}

	hashes, err := e.searchAll(ctx, set, deep)
	if err != nil {
		res.Status = rule.RunStatusFailure
		res.Err = infrastructureError(r.ID, err)
		e.finishRun(ctx, entry, &res, "search failed: "+err.Error())
		return res
	}
	res.Counts.Matched = len(hashes)
	log.Debug("search complete", "matched", len(hashes), "deep", deep)

	hashes, recent := e.filterRecentlyViewed(ctx, hashes)
	res.Counts.RecentlyViewed = len(recent)
	events := []rule.FileEvent{}
	for _, h := range recent {
		events = append(events, rule.FileEvent{
			RunLogID: res.LogID,
			Hash:     h,
			Status:   rule.FileEventRecentView,
			Detail:   "viewed recently",
		})
	}

	verdicts, err := e.partition(ctx, r, hashes, opts)
	if err != nil {
		res.Status = rule.RunStatusFailure
		res.Err = infrastructureError(r.ID, fmt.Errorf("governance read: %w", err))
		e.store.AppendFileEvents(ctx, events)
		e.finishRun(ctx, entry, &res, res.Err.Message)
		return res
	}

	eligible := []string{}
	for _, v := range verdicts {
		if v.eligible {
			eligible = append(eligible, v.hash)
			continue
		}
		res.Counts.Skipped++
		events = append(events, rule.FileEvent{
			RunLogID: res.LogID,
			Hash:     v.hash,
			Status:   rule.FileEventSkipped,
			Detail:   v.reason,
		})
	}
	res.Counts.Eligible = len(eligible)

	if len(eligible) > 0 {
		actionResults, err := e.applyAction(ctx, r.Action, eligible)
		if err != nil {
			res.Status = rule.RunStatusFailure
			res.Err = infrastructureError(r.ID, err)
			e.store.AppendFileEvents(ctx, events)
			e.finishRun(ctx, entry, &res, res.Err.Message)
			return res
		}

		commitEvents := e.commitResults(ctx, r, res.LogID, verdicts, actionResults, &res.Counts)
		events = append(events, commitEvents...)
	}

	e.metrics.Files.WithLabelValues("actioned").Add(float64(res.Counts.Succeed))
	e.metrics.Files.WithLabelValues("failed").Add(float64(res.Counts.Failed))
	e.metrics.Files.WithLabelValues("skipped").Add(float64(res.Counts.Skipped))
	e.metrics.Files.WithLabelValues("recently_viewed").Add(float64(res.Counts.RecentlyViewed))

	if err := e.store.AppendFileEvents(ctx, events); err != nil {
		log.Error("file event write failed", "error", err)
	}

	summary := fmt.Sprintf("matched %d, actioned %d, failed %d, skipped %d",
		res.Counts.Matched, res.Counts.Succeed, res.Counts.Failed, res.Counts.Skipped)
	if res.Counts.RecentlyViewed > 0 {
		summary += fmt.Sprintf(", recently viewed %d", res.Counts.RecentlyViewed)
	}
	e.finishRun(ctx, entry, &res, summary)
	log.Info("rule run finished", "status", res.Status, "summary", summary)
	return res
}

// searchAll executes every query of the set (one, or several after
// sequential splitting) and unions the hashes, preserving first-seen
// order. A positive limit caps the union as well as each query.
func (e *Engine) searchAll(ctx context.Context, set *predicate.Set, deep bool) ([]string, error) {
	seen := make(map[string]bool)
	union := []string{}
	for _, q := range set.Queries() {
		hashes, err := e.search.Query(ctx, q, set.Limit, deep)
		if err != nil {
			return nil, err
		}
		for _, h := range hashes {
			if seen[h] {
				continue
			}
			seen[h] = true
			union = append(union, h)
			if set.Limit > 0 && len(union) == set.Limit {
				return union, nil
			}
		}
	}
	return union, nil
}

func (e *Engine) applyAction(ctx context.Context, a rule.Action, hashes []string) ([]library.Result, error) {
	switch act := a.(type) {
	case rule.AddTo:
		return e.actions.ApplyPlacement(ctx, hashes, act.Destinations, library.PlacementAdd)
	case rule.ForceIn:
		return e.actions.ApplyPlacement(ctx, hashes, act.Destinations, library.PlacementForce)
	case rule.AddTags:
		return e.actions.ApplyTags(ctx, hashes, act.Service, act.Tags, library.TagsAdd)
	case rule.RemoveTags:
		return e.actions.ApplyTags(ctx, hashes, act.Service, act.Tags, library.TagsRemove)
	case rule.ModifyRating:
		return e.actions.ApplyRating(ctx, hashes, act.Service, act.Value)
	case rule.ArchiveFile:
		return e.actions.ApplyArchive(ctx, hashes)
	default:
		return nil, fmt.Errorf("unknown action type %T", a)
	}
}

func (e *Engine) recordFailedRun(ctx context.Context, res *RuleRunResult, parentID string, order int, summary string) {
	entry := &rule.RunLogEntry{
		ID:          res.LogID,
		ParentRunID: parentID,
		RuleID:      res.RuleID,
		RuleName:    res.RuleName,
		ExecOrder:   order,
		StartTime:   e.now(),
		Warnings:    res.Warnings,
	}
	if err := e.store.StartRunLog(ctx, entry); err != nil {
		e.log.Error("run log open failed", "rule", res.RuleID, "error", err)
	}
	e.finishRun(ctx, entry, res, summary)
}

func (e *Engine) finishRun(ctx context.Context, entry *rule.RunLogEntry, res *RuleRunResult, summary string) {
	entry.EndTime = e.now()
	entry.Status = res.Status
	entry.Counts = res.Counts
	entry.Warnings = res.Warnings
	entry.Summary = summary
	if err := e.store.FinishRunLog(ctx, entry); err != nil {
		e.log.Error("run log close failed", "rule", res.RuleID, "error", err)
	}
}
