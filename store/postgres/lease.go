package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewright/automation/id"
)

// AcquireLease takes an exclusive hold on key. The upsert only wins when
// the existing hold has expired or already belongs to the owner, so
// exactly one worker per key proceeds even across hosts.
func (s *Store) AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO automation_leases (key, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE automation_leases.expires_at <= NOW() OR automation_leases.owner = EXCLUDED.owner`,
		key, owner.String(), time.Now().UTC().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("automation/postgres: acquire lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExtendLease renews an existing unexpired hold by owner.
func (s *Store) ExtendLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_leases SET expires_at = $1
		WHERE key = $2 AND owner = $3 AND expires_at > NOW()`,
		time.Now().UTC().Add(ttl), key, owner.String())
	if err != nil {
		return false, fmt.Errorf("automation/postgres: extend lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLease drops the hold on key if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM automation_leases WHERE key = $1 AND owner = $2`,
		key, owner.String())
	if err != nil {
		return fmt.Errorf("automation/postgres: release lease: %w", err)
	}
	return nil
}
