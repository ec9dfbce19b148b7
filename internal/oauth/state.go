package oauth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore binds an anti-forgery nonce to the user who started the consent
// flow. Entries live for a bounded window and are consumed exactly once.
type StateStore interface {
	Save(ctx context.Context, nonce, userID string, ttl time.Duration) error
	// Consume removes the nonce and returns the bound user ID.
	// ("", nil) means the nonce is unknown or already used.
	Consume(ctx context.Context, nonce string) (string, error)
}

// RedisStateStore implements StateStore under "oauthstate:<nonce>" keys.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "oauthstate:"
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) Save(ctx context.Context, nonce, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, s.prefix+nonce, userID, ttl).Err()
}

func (s *RedisStateStore) Consume(ctx context.Context, nonce string) (string, error) {
	// GETDEL makes the nonce single-use even under concurrent callbacks
	v, err := s.client.GetDel(ctx, s.prefix+nonce).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
