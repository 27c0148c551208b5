package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recordlock/recordlock/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"

	// All open locks live in a single hash so existence checks, inserts
	// and index-style deletes stay atomic under one key.
	openLocksKey = "recordlock:open"

	// Field separator; resource slugs may contain ":" so a plain colon
	// join would be ambiguous.
	fieldSep = "\x1f"
)

// RedisStore is a Redis-backed lock store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url string) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Find returns the first lock matching the query, or nil.
func (s *RedisStore) Find(ctx context.Context, q FindQuery) (*Lock, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	if q.Resource == "" {
		return nil, fmt.Errorf("resource required")
	}
	if q.Instance != "" {
		payload, err := s.client.HGet(ctx, openLocksKey, lockField(q.Resource, q.Instance)).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		lock, err := parseLock(payload)
		if err != nil {
			return nil, err
		}
		if q.ExcludeOwner != "" && lock.Owner == q.ExcludeOwner {
			return nil, nil
		}
		return lock, nil
	}

	entries, err := s.client.HGetAll(ctx, openLocksKey).Result()
	if err != nil {
		return nil, err
	}
	for _, payload := range entries {
		lock, err := parseLock(payload)
		if err != nil {
			return nil, err
		}
		if lock.Resource != q.Resource {
			continue
		}
		if q.ExcludeOwner != "" && lock.Owner == q.ExcludeOwner {
			continue
		}
		return lock, nil
	}
	return nil, nil
}

// Create inserts the lock if the pair is free. The existence check and the
// insert run in one Lua script so concurrent creates cannot both succeed.
func (s *RedisStore) Create(ctx context.Context, lock Lock) (*Lock, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	if lock.Resource == "" || lock.Instance == "" || lock.Owner == "" {
		return nil, fmt.Errorf("resource, instance and owner required")
	}
	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("encode lock: %w", err)
	}
	res, err := s.client.Eval(ctx, createScript, []string{openLocksKey},
		lockField(lock.Resource, lock.Instance),
		string(payload),
	).Result()
	if err != nil {
		return nil, err
	}
	existing, _ := res.(string)
	if existing != "" {
		held, err := parseLock(existing)
		if err != nil {
			return nil, err
		}
		return held, &ConflictError{Holder: held.Owner}
	}
	return &lock, nil
}

// DeleteByOwner removes the lock for the pair when the owner matches.
func (s *RedisStore) DeleteByOwner(ctx context.Context, owner, resource, instance string) (int, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("lock store unavailable")
	}
	if owner == "" || resource == "" || instance == "" {
		return 0, fmt.Errorf("owner, resource and instance required")
	}
	res, err := s.client.Eval(ctx, deleteByOwnerScript, []string{openLocksKey},
		lockField(resource, instance),
		owner,
	).Result()
	if err != nil {
		return 0, err
	}
	count, _ := res.(int64)
	return int(count), nil
}

// DeleteByConnection removes every lock created by the given connection
// and returns the removed locks.
func (s *RedisStore) DeleteByConnection(ctx context.Context, connectionID string) ([]Lock, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	if connectionID == "" {
		return nil, fmt.Errorf("connection id required")
	}
	res, err := s.client.Eval(ctx, deleteByConnectionScript, []string{openLocksKey},
		connectionID,
	).Result()
	if err != nil {
		return nil, err
	}
	payloads, _ := res.([]interface{})
	removed := make([]Lock, 0, len(payloads))
	for _, raw := range payloads {
		payload, ok := raw.(string)
		if !ok {
			continue
		}
		lock, err := parseLock(payload)
		if err != nil {
			return nil, err
		}
		removed = append(removed, *lock)
	}
	return removed, nil
}

// DeleteAll wipes every open lock and reports how many were removed.
func (s *RedisStore) DeleteAll(ctx context.Context) (int, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("lock store unavailable")
	}
	count, err := s.client.HLen(ctx, openLocksKey).Result()
	if err != nil {
		return 0, err
	}
	if err := s.client.Del(ctx, openLocksKey).Err(); err != nil {
		return 0, err
	}
	return int(count), nil
}

func lockField(resource, instance string) string {
	return resource + fieldSep + instance
}

func parseLock(payload string) (*Lock, error) {
	var lock Lock
	if err := json.Unmarshal([]byte(payload), &lock); err != nil {
		return nil, fmt.Errorf("decode lock: %w", err)
	}
	return &lock, nil
}

const createScript = `
local key = KEYS[1]
local field = ARGV[1]
local payload = ARGV[2]
local existing = redis.call("HGET", key, field)
if existing then
  return existing
end
redis.call("HSET", key, field, payload)
return ""
`

const deleteByOwnerScript = `
local key = KEYS[1]
local field = ARGV[1]
local owner = ARGV[2]
local existing = redis.call("HGET", key, field)
if not existing then
  return 0
end
local lock = cjson.decode(existing)
if lock["owner"] ~= owner then
  return 0
end
redis.call("HDEL", key, field)
return 1
`

const deleteByConnectionScript = `
local key = KEYS[1]
local conn = ARGV[1]
local removed = {}
local entries = redis.call("HGETALL", key)
for i = 1, #entries, 2 do
  local lock = cjson.decode(entries[i + 1])
  if lock["connection_id"] == conn then
    redis.call("HDEL", key, entries[i])
    removed[#removed + 1] = entries[i + 1]
  end
end
return removed
`
