// Package redisstore provides the Redis-backed session store, selected with
// SESSION_STORE=redis. The slot lives under session:<accountID> with a TTL
// matching the refresh token lifetime, so abandoned sessions expire on their
// own.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamtube/account-service/internal/apperr"
)

// replaceScript swaps the slot only when it still holds the expected digest.
// Running it server-side makes the compare-and-swap atomic.
var replaceScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return nil
`)

// SessionStore implements repository.SessionStore using Redis.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a Redis-backed session store. ttl should match the
// refresh token lifetime.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(accountID string) string {
	return "session:" + accountID
}

// Install overwrites the slot unconditionally.
func (s *SessionStore) Install(ctx context.Context, accountID, tokenDigest string) error {
	if err := s.client.Set(ctx, sessionKey(accountID), tokenDigest, s.ttl).Err(); err != nil {
		return fmt.Errorf("install session: %w", err)
	}
	return nil
}

// Replace swaps the slot from currentDigest to nextDigest atomically.
func (s *SessionStore) Replace(ctx context.Context, accountID, currentDigest, nextDigest string) error {
	res, err := replaceScript.Run(ctx, s.client,
		[]string{sessionKey(accountID)},
		currentDigest, nextDigest, s.ttl.Milliseconds(),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("replace session: %w", err)
	}
	if res == nil || errors.Is(err, redis.Nil) {
		return apperr.ErrSessionConflict
	}

	return nil
}

// Get returns the stored digest, or the empty string when no session is active.
func (s *SessionStore) Get(ctx context.Context, accountID string) (string, error) {
	digest, err := s.client.Get(ctx, sessionKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}

	return digest, nil
}

// Clear deletes the slot. Deleting a missing key is not an error.
func (s *SessionStore) Clear(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, sessionKey(accountID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
