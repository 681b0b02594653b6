package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/tally/internal/errs"
)

// DefaultRedisPrefix namespaces checkpoint keys in a shared Redis.
const DefaultRedisPrefix = "tally:checkpoint:"

const maxWatchRetries = 5

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Infra(errs.CodeCheckpoint, fmt.Errorf("connect to redis %s: %w", opts.Addr, err))
	}
	return client, nil
}

// RedisStore keeps cursors as Redis strings with native expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix overrides DefaultRedisPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore returns a store over client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key string) (Cursor, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, errs.Infra(errs.CodeCheckpoint, fmt.Errorf("load checkpoint %s: %w", key, err))
	}
	c, err := Decode(data)
	if err != nil {
		return Cursor{}, false, errs.Infra(errs.CodeCheckpoint, fmt.Errorf("load checkpoint %s: %w", key, err))
	}
	return c, true, nil
}

// Save implements Store. The compare and set runs under WATCH so two
// writers cannot interleave between the read and the SET.
func (s *RedisStore) Save(ctx context.Context, key string, c Cursor, ttl time.Duration) error {
	data, err := Encode(c)
	if err != nil {
		return errs.Validation(errs.CodeInvalidInput, "checkpoint %s: %v", key, err)
	}
	k := s.key(key)

	txf := func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if stored, err := Decode(prev); err == nil && c.Before(stored) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, k)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return errs.Infra(errs.CodeCheckpoint, fmt.Errorf("save checkpoint %s: %w", key, err))
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errs.Infra(errs.CodeCheckpoint, fmt.Errorf("delete checkpoint %s: %w", key, err))
	}
	return nil
}
