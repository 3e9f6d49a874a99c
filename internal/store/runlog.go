package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mwald/warden/internal/rule"
)

// StartRunLog records the opening of one rule execution with status
// running. Uses ON CONFLICT DO NOTHING so a retried write of the same
// entry id is idempotent.
func (s *Store) StartRunLog(ctx context.Context, e *rule.RunLogEntry) error {
	warnJSON, err := json.Marshal(warningsOrEmpty(e.Warnings))
	if err != nil {
		return fmt.Errorf("start run log %s: %w", e.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_logs
		(id, parent_run_id, rule_id, rule_name, exec_order,
		 start_time, status, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.ParentRunID,
		e.RuleID,
		e.RuleName,
		e.ExecOrder,
		formatTime(e.StartTime),
		string(rule.RunStatusRunning),
		string(warnJSON),
	)
	if err != nil {
		return fmt.Errorf("start run log %s: %w", e.ID, err)
	}
	return nil
}

// FinishRunLog closes a run log entry with its terminal status,
// counts, warnings and summary.
func (s *Store) FinishRunLog(ctx context.Context, e *rule.RunLogEntry) error {
	warnJSON, err := json.Marshal(warningsOrEmpty(e.Warnings))
	if err != nil {
		return fmt.Errorf("finish run log %s: %w", e.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE run_logs
		SET end_time = ?, status = ?,
		    matched = ?, eligible = ?, succeeded = ?, failed = ?,
		    skipped = ?, skipped_recent = ?,
		    warnings = ?, summary = ?
		WHERE id = ?
	`,
		formatTime(e.EndTime),
		string(e.Status),
		e.Counts.Matched,
		e.Counts.Eligible,
		e.Counts.Succeed,
		e.Counts.Failed,
		e.Counts.Skipped,
		e.Counts.RecentlyViewed,
		string(warnJSON),
		e.Summary,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run log %s: %w", e.ID, err)
	}
	return nil
}

func warningsOrEmpty(ws []rule.Warning) []rule.Warning {
	if ws == nil {
		return []rule.Warning{}
	}
	return ws
}

// RunLogFilter narrows a run log query. Zero values are no filter.
type RunLogFilter struct {
	RuleID      string
	ParentRunID string
	Status      rule.RunStatus
	Since       time.Time
	Until       time.Time
	Limit       int
}

// QueryRunLogs returns matching entries, newest first (ties by id for
// determinism). Never nil.
func (s *Store) QueryRunLogs(ctx context.Context, f RunLogFilter) ([]rule.RunLogEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if f.ParentRunID != "" {
		where = append(where, "parent_run_id = ?")
		args = append(args, f.ParentRunID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, formatTime(f.Until))
	}

	q := `
		SELECT id, parent_run_id, rule_id, rule_name, exec_order,
		       start_time, end_time, status,
		       matched, eligible, succeeded, failed, skipped, skipped_recent,
		       warnings, summary
		FROM run_logs
	`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY start_time DESC, id COLLATE BINARY DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	defer rows.Close()

	entries := []rule.RunLogEntry{}
	for rows.Next() {
		var (
			e          rule.RunLogEntry
			start, end string
			status     string
			warnJSON   string
		)
		err := rows.Scan(
			&e.ID, &e.ParentRunID, &e.RuleID, &e.RuleName, &e.ExecOrder,
			&start, &end, &status,
			&e.Counts.Matched, &e.Counts.Eligible, &e.Counts.Succeed,
			&e.Counts.Failed, &e.Counts.Skipped, &e.Counts.RecentlyViewed,
			&warnJSON, &e.Summary,
		)
		if err != nil {
			return nil, fmt.Errorf("query run logs: %w", err)
		}
		e.Status = rule.RunStatus(status)
		if e.StartTime, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("query run logs: %w", err)
		}
		if e.EndTime, err = parseTime(end); err != nil {
			return nil, fmt.Errorf("query run logs: %w", err)
		}
		if err := json.Unmarshal([]byte(warnJSON), &e.Warnings); err != nil {
			return nil, fmt.Errorf("query run logs: warnings: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	return entries, nil
}

// LastRunTime returns the most recent start time recorded for a rule,
// and ok=false if the rule has never run.
func (s *Store) LastRunTime(ctx context.Context, ruleID string) (time.Time, bool, error) {
	var latest string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(start_time), '') FROM run_logs WHERE rule_id = ?
	`, ruleID).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last run time %s: %w", ruleID, err)
	}
	if latest == "" {
		return time.Time{}, false, nil
	}
	t, err := parseTime(latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last run time %s: %w", ruleID, err)
	}
	return t, true, nil
}

// AppendFileEvents records per-file outcomes for a run log entry.
func (s *Store) AppendFileEvents(ctx context.Context, events []rule.FileEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append file events: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_events (run_log_id, file_hash, status, detail)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append file events: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.RunLogID, e.Hash, e.Status, e.Detail); err != nil {
			return fmt.Errorf("append file events: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append file events: commit: %w", err)
	}
	return nil
}

// FileEventsByHash returns a file's event history, newest first.
// Never nil.
func (s *Store) FileEventsByHash(ctx context.Context, hash string, limit int) ([]rule.FileEvent, error) {
	q := `
		SELECT id, run_log_id, file_hash, status, detail
		FROM file_events WHERE file_hash = ?
		ORDER BY id DESC
	`
	args := []any{hash}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.scanFileEvents(ctx, q, args...)
}

// FileEventsByRun returns the events attached to one run log entry,
// insertion order. Never nil.
func (s *Store) FileEventsByRun(ctx context.Context, runLogID string) ([]rule.FileEvent, error) {
	return s.scanFileEvents(ctx, `
		SELECT id, run_log_id, file_hash, status, detail
		FROM file_events WHERE run_log_id = ?
		ORDER BY id ASC
	`, runLogID)
}

func (s *Store) scanFileEvents(ctx context.Context, q string, args ...any) ([]rule.FileEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("file events: %w", err)
	}
	defer rows.Close()

	events := []rule.FileEvent{}
	for rows.Next() {
		var e rule.FileEvent
		if err := rows.Scan(&e.ID, &e.RunLogID, &e.Hash, &e.Status, &e.Detail); err != nil {
			return nil, fmt.Errorf("file events: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("file events: %w", err)
	}
	return events, nil
}

// RuleStats are aggregate run-log numbers for one rule.
type RuleStats struct {
	Runs           int
	Failures       int
	Matched        int
	Succeeded      int
	Failed         int
	Skipped        int
	RecentlyViewed int
}

// StatsForRule aggregates run log entries for a rule since the given
// time (zero = all time).
func (s *Store) StatsForRule(ctx context.Context, ruleID string, since time.Time) (RuleStats, error) {
	var stats RuleStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(matched), 0),
		       COALESCE(SUM(succeeded), 0),
		       COALESCE(SUM(failed), 0),
		       COALESCE(SUM(skipped), 0),
		       COALESCE(SUM(skipped_recent), 0)
		FROM run_logs
		WHERE rule_id = ? AND start_time >= ?
	`, ruleID, formatTime(since)).Scan(
		&stats.Runs, &stats.Failures, &stats.Matched,
		&stats.Succeeded, &stats.Failed, &stats.Skipped,
		&stats.RecentlyViewed,
	)
	if err != nil {
		return RuleStats{}, fmt.Errorf("stats for rule %s: %w", ruleID, err)
	}
	return stats, nil
}
