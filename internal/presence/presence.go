// Package presence mirrors which users hold a live connection to a session.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one set of online user ids per session.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr. The set of a session expires ttl after its last change.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Key is the redis key of a session's online set.
func Key(sessionID string) string {
	return "session:" + sessionID + ":online"
}

func (r *Redis) Online(ctx context.Context, sessionID, userID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, Key(sessionID), userID)
	if r.ttl > 0 {
		pipe.Expire(ctx, Key(sessionID), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Offline(ctx context.Context, sessionID, userID string) error {
	return r.client.SRem(ctx, Key(sessionID), userID).Err()
}

// Members lists the online users of a session.
func (r *Redis) Members(ctx context.Context, sessionID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, Key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return members, err
}

func (r *Redis) Close() error { return r.client.Close() }

// Nop discards presence updates when no redis is configured.
type Nop struct{}

func (Nop) Online(context.Context, string, string) error  { return nil }
func (Nop) Offline(context.Context, string, string) error { return nil }
