package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const denylistKeyPrefix = "memperm:revoked:"

// TokenDenylist remembers tokens that were logged out before they expired.
type TokenDenylist interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

// NopDenylist forgets everything; logged out tokens stay valid until expiry.
type NopDenylist struct{}

func (NopDenylist) Add(context.Context, string, time.Duration) error { return nil }
func (NopDenylist) Contains(context.Context, string) (bool, error)   { return false, nil }

type RedisDenylist struct {
	client redis.UniversalClient
}

func NewRedisDenylist(client redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{client: client}
}

// DenylistKey stores a digest so raw tokens never reach redis.
func DenylistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return denylistKeyPrefix + hex.EncodeToString(sum[:])
}

func (d *RedisDenylist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if err := d.client.Set(ctx, DenylistKey(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("deny token: %w", err)
	}
	return nil
}

func (d *RedisDenylist) Contains(ctx context.Context, token string) (bool, error) {
	err := d.client.Get(ctx, DenylistKey(token)).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check token denylist: %w", err)
	}
	return true, nil
}
