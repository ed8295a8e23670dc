package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"marketplace/internal/app/presence"
)

// The set of connection ids per user is the cluster-wide source of truth.
// Each script returns {changed, remaining}.
var (
	connectScript = goredis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {added, redis.call('SCARD', KEYS[1])}
`)
	refreshScript = goredis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
return redis.call('PEXPIRE', KEYS[1], ARGV[2])
`)
	disconnectScript = goredis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
return {removed, redis.call('SCARD', KEYS[1])}
`)
)

// Tracker decides presence transitions across gateway processes.
type Tracker struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewTracker keeps connection sets for ttl after their last connect or refresh.
// Live connections refresh well within ttl; entries left behind by a crashed
// process lapse on their own.
func NewTracker(client goredis.UniversalClient, prefix string, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tracker{client: client, prefix: prefix, ttl: ttl}
}

func (t *Tracker) Connect(ctx context.Context, userID, connID string) (bool, error) {
	res, err := connectScript.Run(ctx, t.client, []string{t.connsKey(userID)}, connID, t.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: presence connect: %w", err)
	}
	return len(res) == 2 && res[0] == 1 && res[1] == 1, nil
}

// Refresh re-arms the set's expiry and re-adds connID in case the set lapsed.
func (t *Tracker) Refresh(ctx context.Context, userID, connID string) error {
	if err := refreshScript.Run(ctx, t.client, []string{t.connsKey(userID)}, connID, t.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis: presence refresh: %w", err)
	}
	return nil
}

func (t *Tracker) Disconnect(ctx context.Context, userID, connID string) (bool, error) {
	res, err := disconnectScript.Run(ctx, t.client, []string{t.connsKey(userID)}, connID).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: presence disconnect: %w", err)
	}
	return len(res) == 2 && res[0] == 1 && res[1] == 0, nil
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.client.SCard(ctx, t.connsKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *Tracker) connsKey(userID string) string {
	return key(t.prefix, "presence", userID)
}

var _ presence.Tracker = (*Tracker)(nil)
