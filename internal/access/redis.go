package access

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessions validates user sessions against Redis. The auth service owns
// the keys; this side only reads them, plus a revoke used by admin tooling.
type RedisSessions struct {
	client *redis.Client
	prefix string
}

var _ SessionVerifier = (*RedisSessions)(nil)

// NewRedisSessions connects to Redis and verifies the connection.
func NewRedisSessions(redisURL string) (*RedisSessions, error) {
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

	return &RedisSessions{client: client, prefix: "session:"}, nil
}

// NewRedisSessionsWithClient wraps an existing client.
func NewRedisSessionsWithClient(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client, prefix: "session:"}
}

func (s *RedisSessions) key(userID string) string {
	return s.prefix + userID
}

// VerifySession reports whether the user holds a live session key.
func (s *RedisSessions) VerifySession(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("verify session for %s: %w", userID, err)
	}
	return n > 0, nil
}

// RevokeSession deletes the session key, forcing re-authentication.
func (s *RedisSessions) RevokeSession(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("revoke session for %s: %w", userID, err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisSessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisSessions) Close() error {
	return s.client.Close()
}
