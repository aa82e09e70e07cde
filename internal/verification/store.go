// Package verification parks pending registrations behind single-use
// numeric codes.
package verification

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go-identity-service/internal/model"
)

const keyPrefix = "verification:"

// Generate returns a uniformly random numeric code of the given length.
// Leading zeros are kept.
func Generate(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", digits)
	}

	ten := big.NewInt(10)
	var b strings.Builder
	b.Grow(digits)
	for range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func key(code string) string {
	return keyPrefix + code
}

// Save stores pending under code unless the code is already in use. A false
// result means the caller must draw another code.
func (s *RedisStore) Save(ctx context.Context, code string, pending model.PendingRegistration, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(pending)
	if err != nil {
		return false, fmt.Errorf("encode pending registration: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key(code), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: save verification code: %v", model.ErrStorageUnavailable, err)
	}
	return ok, nil
}

// Consume reads and removes the record in one command, so a code can be
// redeemed at most once.
func (s *RedisStore) Consume(ctx context.Context, code string) (model.PendingRegistration, bool, error) {
	payload, err := s.client.GetDel(ctx, key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.PendingRegistration{}, false, nil
	}
	if err != nil {
		return model.PendingRegistration{}, false, fmt.Errorf("%w: consume verification code: %v", model.ErrStorageUnavailable, err)
	}

	var pending model.PendingRegistration
	if err := json.Unmarshal(payload, &pending); err != nil {
		return model.PendingRegistration{}, false, fmt.Errorf("decode pending registration: %w", err)
	}
	return pending, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, key(code)).Err(); err != nil {
		return fmt.Errorf("%w: delete verification code: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}
