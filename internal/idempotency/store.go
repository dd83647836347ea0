// Package idempotency replays the first response of a POST request sent
// again with the same Idempotency-Key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "agencyledger:idem:"

const releaseScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
local record = cjson.decode(current)
if record["state"] == "pending" and record["token"] == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
)

// Record is what is kept per key. Pending records carry the token of the
// request that holds the key.
type Record struct {
	State       State  `json:"state"`
	Token       string `json:"token,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type Store interface {
	// Reserve claims key for a new request. When the key is already taken
	// it returns the stored record and false.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*Record, bool, error)
	// Complete replaces the pending record with the final response.
	Complete(ctx context.Context, key string, record Record, ttl time.Duration) error
	// Release drops a pending reservation so the client can retry.
	Release(ctx context.Context, key, token string) error
}

var ErrStoreNotConfigured = errors.New("idempotency store not configured")

type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client, script: redis.NewScript(releaseScript)}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*Record, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, ErrStoreNotConfigured
	}
	pending := Record{State: StatePending, Token: uuid.NewString(), Fingerprint: fingerprint}
	raw, err := json.Marshal(pending)
	if err != nil {
		return nil, false, err
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+key, raw, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return &pending, true, nil
	}

	stored, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; let the caller retry the request.
		return &Record{State: StatePending, Fingerprint: fingerprint}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var existing Record
	if err := json.Unmarshal(stored, &existing); err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return ErrStoreNotConfigured
	}
	record.State = StateDone
	record.Token = ""
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+key, raw, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if s == nil || s.client == nil || key == "" || token == "" {
		return nil
	}
	return s.script.Run(ctx, s.client, []string{keyPrefix + key}, token).Err()
}
