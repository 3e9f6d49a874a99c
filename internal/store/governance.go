package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mwald/warden/internal/rule"
)

// Governance writes are compare-and-set: every mutation states the
// owner it observed when the engine partitioned the file, and commits
// only if that owner is still recorded. A lost race leaves the row
// untouched and reports committed=false; the engine counts the file
// as skipped rather than overwriting a concurrent claim.

// GetGovernance loads the record for a hash. A file with no record
// yet returns (nil, nil): governance rows are created lazily on first
// governed write.
func (s *Store) GetGovernance(ctx context.Context, hash string) (*rule.GovernanceRecord, error) {
	var (
		rec           rule.GovernanceRecord
		owner         string
		priority      int
		placementJSON string
		ratingsJSON   string
		updated       string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT file_hash, placement_owner, placement_priority,
		       correct_placement, rating_owners, last_updated
		FROM governance WHERE file_hash = ?
	`, hash).Scan(&rec.Hash, &owner, &priority, &placementJSON, &ratingsJSON, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get governance %s: %w", hash, err)
	}

	if owner != "" {
		rec.Placement = &rule.Owner{RuleID: owner, Priority: priority}
	}
	if err := json.Unmarshal([]byte(placementJSON), &rec.CorrectPlacement); err != nil {
		return nil, fmt.Errorf("get governance %s: correct placement: %w", hash, err)
	}
	if err := json.Unmarshal([]byte(ratingsJSON), &rec.RatingOwners); err != nil {
		return nil, fmt.Errorf("get governance %s: rating owners: %w", hash, err)
	}
	rec.LastUpdated, err = parseTime(updated)
	if err != nil {
		return nil, fmt.Errorf("get governance %s: %w", hash, err)
	}
	return &rec, nil
}

// CommitPlacement transfers placement ownership of a file to owner,
// recording the new correct placement. expectOwner is the owning rule
// id the engine observed (empty for unowned); the write commits only
// if that is still the recorded owner.
func (s *Store) CommitPlacement(ctx context.Context, hash, expectOwner string, owner rule.Owner, placement []string, now time.Time) (committed bool, err error) {
	placementJSON, err := json.Marshal(placement)
	if err != nil {
		return false, fmt.Errorf("commit placement %s: %w", hash, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("commit placement %s: begin tx: %w", hash, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := ensureGovernanceRow(ctx, tx, hash, now); err != nil {
		return false, fmt.Errorf("commit placement %s: %w", hash, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE governance
		SET placement_owner = ?, placement_priority = ?,
		    correct_placement = ?, last_updated = ?
		WHERE file_hash = ? AND placement_owner = ?
	`, owner.RuleID, owner.Priority, string(placementJSON), formatTime(now), hash, expectOwner)
	if err != nil {
		return false, fmt.Errorf("commit placement %s: update: %w", hash, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("commit placement %s: rows affected: %w", hash, err)
	}
	if rowsAffected == 0 {
		// Owner changed since the engine partitioned this file.
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit placement %s: commit: %w", hash, err)
	}
	return true, nil
}

// MergePlacement adds destinations to a file's correct placement
// without claiming ownership (the AddTo path). The merge commits only
// if the observed placement owner is unchanged.
func (s *Store) MergePlacement(ctx context.Context, hash, expectOwner string, destinations []string, now time.Time) (committed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("merge placement %s: begin tx: %w", hash, err)
	}
	defer tx.Rollback()

	if err := ensureGovernanceRow(ctx, tx, hash, now); err != nil {
		return false, fmt.Errorf("merge placement %s: %w", hash, err)
	}

	var (
		currentOwner  string
		placementJSON string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT placement_owner, correct_placement FROM governance WHERE file_hash = ?
	`, hash).Scan(&currentOwner, &placementJSON)
	if err != nil {
		return false, fmt.Errorf("merge placement %s: select: %w", hash, err)
	}
	if currentOwner != expectOwner {
		return false, nil
	}

	var placement []string
	if err := json.Unmarshal([]byte(placementJSON), &placement); err != nil {
		return false, fmt.Errorf("merge placement %s: decode: %w", hash, err)
	}
	placement = mergeKeys(placement, destinations)
	merged, err := json.Marshal(placement)
	if err != nil {
		return false, fmt.Errorf("merge placement %s: encode: %w", hash, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE governance SET correct_placement = ?, last_updated = ?
		WHERE file_hash = ? AND placement_owner = ?
	`, string(merged), formatTime(now), hash, expectOwner)
	if err != nil {
		return false, fmt.Errorf("merge placement %s: update: %w", hash, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("merge placement %s: commit: %w", hash, err)
	}
	return true, nil
}

// CommitRating transfers rating ownership for one service on one file.
// expectOwner is the owning rule id the engine observed for that
// service (empty for unowned).
func (s *Store) CommitRating(ctx context.Context, hash, serviceKey, expectOwner string, owner rule.Owner, now time.Time) (committed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("commit rating %s: begin tx: %w", hash, err)
	}
	defer tx.Rollback()

	if err := ensureGovernanceRow(ctx, tx, hash, now); err != nil {
		return false, fmt.Errorf("commit rating %s: %w", hash, err)
	}

	var ratingsJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT rating_owners FROM governance WHERE file_hash = ?
	`, hash).Scan(&ratingsJSON)
	if err != nil {
		return false, fmt.Errorf("commit rating %s: select: %w", hash, err)
	}

	owners := map[string]rule.Owner{}
	if err := json.Unmarshal([]byte(ratingsJSON), &owners); err != nil {
		return false, fmt.Errorf("commit rating %s: decode: %w", hash, err)
	}

	current := ""
	if o, ok := owners[serviceKey]; ok {
		current = o.RuleID
	}
	if current != expectOwner {
		return false, nil
	}

	owners[serviceKey] = owner
	encoded, err := json.Marshal(owners)
	if err != nil {
		return false, fmt.Errorf("commit rating %s: encode: %w", hash, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE governance SET rating_owners = ?, last_updated = ?
		WHERE file_hash = ?
	`, string(encoded), formatTime(now), hash)
	if err != nil {
		return false, fmt.Errorf("commit rating %s: update: %w", hash, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rating %s: commit: %w", hash, err)
	}
	return true, nil
}

// PruneGovernance removes records last touched before cutoff and
// returns how many were deleted.
func (s *Store) PruneGovernance(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM governance WHERE last_updated < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune governance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune governance: %w", err)
	}
	return n, nil
}

// ensureGovernanceRow lazily creates the unowned record for a hash.
func ensureGovernanceRow(ctx context.Context, tx *sql.Tx, hash string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO governance (file_hash, last_updated)
		VALUES (?, ?)
		ON CONFLICT(file_hash) DO NOTHING
	`, hash, formatTime(now))
	if err != nil {
		return fmt.Errorf("ensure row: %w", err)
	}
	return nil
}

func mergeKeys(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, k := range existing {
		seen[k] = true
	}
	for _, k := range extra {
		if !seen[k] {
			seen[k] = true
			existing = append(existing, k)
		}
	}
	return existing
}
