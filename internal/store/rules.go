package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mwald/warden/internal/rule"
)

// ErrNotFound reports a missing row for a keyed lookup.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

const ruleColumns = `
	id, name, priority, conditions, action,
	schedule_mode, interval_seconds,
	deep_check_mode, deep_check_n,
	run_count, created_at
`

// SaveRule inserts or fully replaces a rule. The persisted run
// counter is preserved on replace; edits to a rule do not restart its
// deep-check cadence.
func (s *Store) SaveRule(ctx context.Context, r *rule.Rule) error {
	if err := rule.Validate(r); err != nil {
		return fmt.Errorf("save rule: %w", err)
	}

	condJSON, err := rule.EncodeConditions(r.Conditions)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	actionJSON, err := rule.EncodeAction(r.Action)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules
		(id, name, priority, conditions, action,
		 schedule_mode, interval_seconds, deep_check_mode, deep_check_n,
		 run_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			conditions = excluded.conditions,
			action = excluded.action,
			schedule_mode = excluded.schedule_mode,
			interval_seconds = excluded.interval_seconds,
			deep_check_mode = excluded.deep_check_mode,
			deep_check_n = excluded.deep_check_n
	`,
		r.ID,
		r.Name,
		r.Priority,
		string(condJSON),
		string(actionJSON),
		string(r.Schedule.Mode),
		r.Schedule.Seconds,
		string(deepCheckMode(r)),
		r.DeepCheck.EveryN,
		r.RunCount,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	return nil
}

func deepCheckMode(r *rule.Rule) rule.DeepCheckMode {
	if r.DeepCheck.Mode == "" {
		return rule.DeepCheckNever
	}
	return r.DeepCheck.Mode
}

// GetRule loads one rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (*rule.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE id = ?
	`, id)

	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Kind: "rule", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", id, err)
	}
	return r, nil
}

// ListRules returns every rule in pass execution order: ascending
// priority value, ties by id. Returns an empty slice, never nil.
func (s *Store) ListRules(ctx context.Context) ([]rule.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		ORDER BY priority ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := []rule.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("list rules: %w", err)
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// GetRules loads the named rules and returns them in pass execution
// order. Unknown ids are an error.
func (s *Store) GetRules(ctx context.Context, ids []string) ([]rule.Rule, error) {
	rules := make([]rule.Rule, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRule(ctx, id)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	rule.SortByPrecedence(rules)
	return rules, nil
}

// DeleteRule removes a rule; set associations cascade. Governance
// records it owns are intentionally left in place - precedence checks
// run against the priority recorded at grant time.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n == 0 {
		return &ErrNotFound{Kind: "rule", ID: id}
	}
	return nil
}

// IncrementRunCount bumps the scheduled-pass counter for a rule.
func (s *Store) IncrementRunCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET run_count = run_count + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("increment run count %s: %w", id, err)
	}
	return nil
}

// ResetRunCount zeroes the scheduled-pass counter after a deep run fires.
func (s *Store) ResetRunCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET run_count = 0 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("reset run count %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*rule.Rule, error) {
	var (
		r          rule.Rule
		condJSON   string
		actionJSON string
		schedMode  string
		deepMode   string
		createdAt  string
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.Priority, &condJSON, &actionJSON,
		&schedMode, &r.Schedule.Seconds,
		&deepMode, &r.DeepCheck.EveryN,
		&r.RunCount, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.Schedule.Mode = rule.ScheduleMode(schedMode)
	r.DeepCheck.Mode = rule.DeepCheckMode(deepMode)

	r.Conditions, err = rule.DecodeConditions([]byte(condJSON))
	if err != nil {
		return nil, err
	}
	r.Action, err = rule.DecodeAction([]byte(actionJSON))
	if err != nil {
		return nil, err
	}
	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
