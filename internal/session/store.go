// Package session tracks issued refresh tokens in Redis.
//
// A refresh token is usable only while its record exists. Logout deletes the
// record; expiry is left to the Redis TTL.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go-identity-service/internal/model"
)

const keyPrefix = "session:"

// Record is the identity bound to one refresh token.
type Record struct {
	Username string
	Role     string
}

type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func key(refreshToken string) string {
	return keyPrefix + refreshToken
}

// Put replaces any record stored under refreshToken. The delete, write and
// expiry run in one MULTI/EXEC so readers never see a record without a TTL.
func (s *RedisStore) Put(ctx context.Context, refreshToken string, rec Record, ttl time.Duration) error {
	k := key(refreshToken)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, "username", rec.Username, "role", rec.Role)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put session: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

// Get reports whether a live record exists for refreshToken.
func (s *RedisStore) Get(ctx context.Context, refreshToken string) (Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, key(refreshToken)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: get session: %v", model.ErrStorageUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	return Record{Username: fields["username"], Role: fields["role"]}, true, nil
}

// Delete is idempotent.
func (s *RedisStore) Delete(ctx context.Context, refreshToken string) error {
	if err := s.client.Del(ctx, key(refreshToken)).Err(); err != nil {
		return fmt.Errorf("%w: delete session: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}
