package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "cart:session:"

// SessionStore implements repository.SessionStore using Redis. Bindings
// expire ttl after they were last written or read.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a new Redis-backed session store.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// CartID returns the cart bound to token and refreshes its expiry.
func (s *SessionStore) CartID(ctx context.Context, token string) (uuid.UUID, bool, error) {
	key := sessionKeyPrefix + token

	raw, err := s.client.GetEx(ctx, key, s.ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("redis get session: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("session %s holds malformed cart id: %w", redactToken(token), err)
	}
	return id, true, nil
}

// Bind maps token to cartID.
func (s *SessionStore) Bind(ctx context.Context, token string, cartID uuid.UUID) error {
	if err := s.client.Set(ctx, sessionKeyPrefix+token, cartID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Clear removes the binding for token.
func (s *SessionStore) Clear(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

func redactToken(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}
