package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares gate-host cooldown state between workers and, when
// several unlocker processes point at the same Redis, between processes.
// A cooldown is set whenever a gate host starts throttling (429/503) so
// every worker backs off instead of hammering the host into a ban.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SetCooldown records that host asked us to back off for the given duration.
func (s *RedisStore) SetCooldown(ctx context.Context, host string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return s.client.Set(ctx, cooldownKey(host), "1", d).Err()
}

// CooldownRemaining returns how long the caller should still wait before
// contacting host, or zero if no cooldown is active.
func (s *RedisStore) CooldownRemaining(ctx context.Context, host string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, cooldownKey(host)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	if ttl < 0 {
		// -2: key missing, -1: no expiry (should not happen for cooldowns)
		return 0, nil
	}
	return ttl, nil
}

// cooldownKey hashes the host so arbitrary input never produces unsafe keys.
func cooldownKey(host string) string {
	h := sha256.Sum256([]byte(host))
	return fmt.Sprintf("cooldown:%s", hex.EncodeToString(h[:]))
}
