// Package session keeps refresh tokens and access-token revocations in Redis.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lexwrite/api/internal/store"
)

const (
	defaultRefreshTTL = 30 * 24 * time.Hour
	keyPrefix         = "lexwrite:session:"
)

// RedisStore keeps each refresh session as a hash under
// lexwrite:session:refresh:<hash> and each revoked access token under
// lexwrite:session:revoked:<jti>. Both expire with the token they describe.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore dials redisURL and fails fast when Redis is unreachable.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient shares an existing client, e.g. with the rate limiter.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func refreshKey(tokenHash string) string { return keyPrefix + "refresh:" + tokenHash }
func revokedKey(jti string) string       { return keyPrefix + "revoked:" + jti }

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	if !expiresAt.After(s.now()) {
		expiresAt = s.now().Add(defaultRefreshTTL)
	}
	key := refreshKey(tokenHash)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", user.ID,
			"email", user.Email,
			"created_at", s.now().UTC().Format(time.RFC3339Nano),
		)
		pipe.ExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession returns store.ErrNotFound for unknown, expired or
// revoked tokens.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	fields, err := s.client.HGetAll(ctx, refreshKey(tokenHash)).Result()
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if fields["user_id"] == "" {
		return store.User{}, store.ErrNotFound
	}
	user := store.User{ID: fields["user_id"], Email: fields["email"]}
	if created, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		user.CreatedAt = created
	}
	return user, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, refreshKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAccessToken remembers a JTI until the token would have expired anyway.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	ttl := exp.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
