package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewright/automation/id"
)

// AcquireLease takes an exclusive hold on key. The upsert only wins when
// the existing hold has expired or already belongs to the owner, so
// exactly one worker proceeds per key.
func (s *Store) AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_leases (key, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE automation_leases.expires_at <= ? OR automation_leases.owner = excluded.owner`,
		key, owner.String(), fmtTime(now.Add(ttl)), fmtTime(now))
	if err != nil {
		return false, fmt.Errorf("automation/sqlite: acquire lease: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// ExtendLease renews an existing unexpired hold by owner.
func (s *Store) ExtendLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_leases SET expires_at = ?
		WHERE key = ? AND owner = ? AND expires_at > ?`,
		fmtTime(now.Add(ttl)), key, owner.String(), fmtTime(now))
	if err != nil {
		return false, fmt.Errorf("automation/sqlite: extend lease: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// ReleaseLease drops the hold on key if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM automation_leases WHERE key = ? AND owner = ?`,
		key, owner.String())
	if err != nil {
		return fmt.Errorf("automation/sqlite: release lease: %w", err)
	}
	return nil
}
