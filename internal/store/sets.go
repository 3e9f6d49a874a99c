package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mwald/warden/internal/rule"
)

// SaveSet inserts or replaces a rule set. Membership is managed
// separately through Associate/Dissociate.
func (s *Store) SaveSet(ctx context.Context, set *rule.RuleSet) error {
	if set.ID == "" {
		return fmt.Errorf("save set: set has no id")
	}
	if set.Name == "" {
		return fmt.Errorf("save set %s: name is empty", set.ID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_sets (id, name, schedule_mode, interval_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule_mode = excluded.schedule_mode,
			interval_seconds = excluded.interval_seconds
	`, set.ID, set.Name, string(set.Schedule.Mode), set.Schedule.Seconds)
	if err != nil {
		return fmt.Errorf("save set %s: %w", set.ID, err)
	}
	return nil
}

// GetSet loads one rule set by id.
func (s *Store) GetSet(ctx context.Context, id string) (*rule.RuleSet, error) {
	var (
		set  rule.RuleSet
		mode string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, schedule_mode, interval_seconds
		FROM rule_sets WHERE id = ?
	`, id).Scan(&set.ID, &set.Name, &mode, &set.Schedule.Seconds)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Kind: "rule set", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get set %s: %w", id, err)
	}
	set.Schedule.Mode = rule.ScheduleMode(mode)
	return &set, nil
}

// ListSets returns every rule set, id-ascending. Never nil.
func (s *Store) ListSets(ctx context.Context) ([]rule.RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, schedule_mode, interval_seconds
		FROM rule_sets
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	defer rows.Close()

	sets := []rule.RuleSet{}
	for rows.Next() {
		var (
			set  rule.RuleSet
			mode string
		)
		if err := rows.Scan(&set.ID, &set.Name, &mode, &set.Schedule.Seconds); err != nil {
			return nil, fmt.Errorf("list sets: %w", err)
		}
		set.Schedule.Mode = rule.ScheduleMode(mode)
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	return sets, nil
}

// DeleteSet removes a set. Associations cascade; member rules are
// untouched.
func (s *Store) DeleteSet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rule_sets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete set %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete set %s: %w", id, err)
	}
	if n == 0 {
		return &ErrNotFound{Kind: "rule set", ID: id}
	}
	return nil
}

// Associate links a rule into a set at a position, replacing any
// previous position for the pair.
func (s *Store) Associate(ctx context.Context, ruleID, setID string, position int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_set_associations (rule_id, set_id, position)
		VALUES (?, ?, ?)
		ON CONFLICT(rule_id, set_id) DO UPDATE SET position = excluded.position
	`, ruleID, setID, position)
	if err != nil {
		return fmt.Errorf("associate rule %s with set %s: %w", ruleID, setID, err)
	}
	return nil
}

// Dissociate removes a rule from a set. Removing a missing
// association is a no-op.
func (s *Store) Dissociate(ctx context.Context, ruleID, setID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM rule_set_associations WHERE rule_id = ? AND set_id = ?
	`, ruleID, setID)
	if err != nil {
		return fmt.Errorf("dissociate rule %s from set %s: %w", ruleID, setID, err)
	}
	return nil
}

// SetMembers returns a set's rules ordered by association position,
// then rule id. Never nil.
func (s *Store) SetMembers(ctx context.Context, setID string) ([]rule.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		JOIN rule_set_associations a ON a.rule_id = rules.id
		WHERE a.set_id = ?
		ORDER BY a.position ASC, rules.id COLLATE BINARY ASC
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("set members %s: %w", setID, err)
	}
	defer rows.Close()

	rules := []rule.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("set members %s: %w", setID, err)
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("set members %s: %w", setID, err)
	}
	return rules, nil
}

// Associations returns every rule-set association. Never nil.
func (s *Store) Associations(ctx context.Context) ([]rule.Association, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, set_id, position
		FROM rule_set_associations
		ORDER BY set_id ASC, position ASC, rule_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("associations: %w", err)
	}
	defer rows.Close()

	assocs := []rule.Association{}
	for rows.Next() {
		var a rule.Association
		if err := rows.Scan(&a.RuleID, &a.SetID, &a.Position); err != nil {
			return nil, fmt.Errorf("associations: %w", err)
		}
		assocs = append(assocs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("associations: %w", err)
	}
	return assocs, nil
}
