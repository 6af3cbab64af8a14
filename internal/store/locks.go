package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// holderID identifies this process instance in advisory_locks.holder,
// distinguishing a self-renewal from a lock genuinely held elsewhere.
var holderID = uuid.NewString()

// TryAcquire implements scheduler.AdvisoryLocker: it takes the
// cross-process lock for jobName if unheld or expired, releasing
// automatically after ttl even if this process crashes before Release.
func (s *Store) TryAcquire(ctx context.Context, jobName string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: advisory lock begin tx: %w", err)
	}
	defer tx.Rollback()

	var holder string
	var expires time.Time
	err = tx.QueryRowContext(ctx, `SELECT holder, expires_at FROM advisory_locks WHERE job_name = ?`, jobName).
		Scan(&holder, &expires)

	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO advisory_locks (job_name, holder, expires_at) VALUES (?, ?, ?)`,
			jobName, holderID, expiresAt,
		); err != nil {
			return false, fmt.Errorf("store: advisory lock insert: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("store: advisory lock lookup: %w", err)
	case holder != holderID && expires.After(now):
		// held by someone else and not yet expired
		return false, nil
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE advisory_locks SET holder = ?, expires_at = ? WHERE job_name = ?`,
			holderID, expiresAt, jobName,
		); err != nil {
			return false, fmt.Errorf("store: advisory lock update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: advisory lock commit: %w", err)
	}
	return true, nil
}

// Release drops this process's advisory lock for jobName, if held.
func (s *Store) Release(ctx context.Context, jobName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM advisory_locks WHERE job_name = ? AND holder = ?`, jobName, holderID,
	)
	if err != nil {
		return fmt.Errorf("store: advisory lock release for %s: %w", jobName, err)
	}
	return nil
}
