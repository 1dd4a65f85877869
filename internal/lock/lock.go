// Package lock provides a Redis-backed per-document lock so concurrent
// save hooks for the same document are serialized instead of interleaved.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flashnotes/engine/internal/util"
)

// releaseScript deletes the lock key only if the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-document locks with a TTL. A crashed holder's
// lock expires on its own; Release is only needed on the happy path.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewLocker connects to Redis and verifies the connection.
func NewLocker(redisURL string, ttl time.Duration) (*Locker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewLockerWithClient(client, ttl), nil
}

// NewLockerWithClient creates a locker from an existing Redis client.
func NewLockerWithClient(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client: client,
		prefix: "doclock:",
		ttl:    ttl,
	}
}

func (l *Locker) key(documentID string) string {
	return l.prefix + documentID
}

// Acquire attempts to take the lock for a document. It returns a token
// to release with, or ok=false when another holder has the lock.
func (l *Locker) Acquire(ctx context.Context, documentID string) (string, bool, error) {
	token := util.NewID("lk")
	ok, err := l.client.SetNX(ctx, l.key(documentID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock for %s: %w", documentID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if the token still matches. Releasing an
// expired or stolen lock is a no-op, not an error.
func (l *Locker) Release(ctx context.Context, documentID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(documentID)}, token).Err(); err != nil {
		return fmt.Errorf("release lock for %s: %w", documentID, err)
	}
	return nil
}

// Held reports whether any holder currently has the document locked.
func (l *Locker) Held(ctx context.Context, documentID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(documentID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock for %s: %w", documentID, err)
	}
	return n > 0, nil
}

// Ping checks if Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *Locker) Close() error {
	return l.client.Close()
}
