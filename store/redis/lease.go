package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sitewright/automation/id"
)

// Lease scripts compare the stored owner before mutating, so extend and
// release are atomic even against a concurrent expiry.
var (
	acquireScript = goredis.NewScript(`
		local owner = redis.call('GET', KEYS[1])
		if owner == false or owner == ARGV[1] then
			redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
			return 1
		end
		return 0`)

	extendScript = goredis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			redis.call('PEXPIRE', KEYS[1], ARGV[2])
			return 1
		end
		return 0`)

	releaseScript = goredis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0`)
)

// AcquireLease takes an exclusive hold on key. Expiry is handled by the
// key TTL, so a crashed worker frees its leases automatically.
func (s *Store) AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client,
		[]string{leaseKey(key)}, owner.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("automation/redis: acquire lease: %w", err)
	}
	return n == 1, nil
}

// ExtendLease renews an existing hold by owner.
func (s *Store) ExtendLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, s.client,
		[]string{leaseKey(key)}, owner.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("automation/redis: extend lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease drops the hold on key if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error {
	if _, err := releaseScript.Run(ctx, s.client,
		[]string{leaseKey(key)}, owner.String()).Result(); err != nil {
		return fmt.Errorf("automation/redis: release lease: %w", err)
	}
	return nil
}
