package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/submission"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "carescore:session:"

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares sessions between gateway replicas.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisStore(client *redis.Client, ttl, lockTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, lockTTL: lockTTL}
}

func (s *RedisStore) Save(ctx context.Context, id string, snap submission.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+id, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (submission.Snapshot, error) {
	payload, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return submission.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return submission.Snapshot{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var snap submission.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return submission.Snapshot{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, keyPrefix+id, lockKey(id)).Err()
}

func (s *RedisStore) Lock(ctx context.Context, id string) (func(), error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(id), token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release even when the request context is already cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, s.client, []string{lockKey(id)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				logger.Log.WithError(err).WithField("session_id", id).Warn("failed to release session lock")
			}
		})
	}, nil
}

// Ping is the readiness probe of the Redis backend.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func lockKey(id string) string {
	return keyPrefix + id + ":lock"
}
