package store

import (
	"context"
	"fmt"
	"time"
)

// PruneRunLogsByAge deletes run log entries started before cutoff.
// Attached file events cascade. Returns the number of entries removed.
func (s *Store) PruneRunLogsByAge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM run_logs WHERE start_time < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune run logs by age: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune run logs by age: %w", err)
	}
	return n, nil
}

// PruneRunLogsByCount keeps only the newest keep entries per rule and
// deletes the rest. Returns the number of entries removed.
func (s *Store) PruneRunLogsByCount(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune run logs by count: keep must be >= 1, got %d", keep)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM run_logs WHERE id IN (
			SELECT id FROM (
				SELECT id,
				       ROW_NUMBER() OVER (
				           PARTITION BY rule_id
				           ORDER BY start_time DESC, id DESC
				       ) AS rn
				FROM run_logs
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune run logs by count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune run logs by count: %w", err)
	}
	return n, nil
}

// PruneDuplicateFileEvents keeps the newest event per (hash, status)
// pair and deletes older repeats. Steady-state scheduled runs record
// the same skip outcome for the same file over and over; the history
// only needs the latest occurrence.
func (s *Store) PruneDuplicateFileEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM file_events WHERE id NOT IN (
			SELECT MAX(id) FROM file_events GROUP BY file_hash, status
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("prune duplicate file events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune duplicate file events: %w", err)
	}
	return n, nil
}
