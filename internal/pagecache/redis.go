package pagecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rohmanhakim/storefront-ssr/pkg/failure"
	"github.com/rohmanhakim/storefront-ssr/pkg/retry"
)

const DefaultRedisPrefix = "ssr:"

// redisClient is the subset of *redis.Client the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisStore shares rendered pages between processes.
//
// Entries are written with a PX expiry equal to maxAge. The entry count cap
// is left to the server's maxmemory eviction policy (allkeys-lru is the
// matching setting).
type RedisStore struct {
	client redisClient
	prefix string
	maxAge time.Duration
}

var _ Store = (*RedisStore)(nil)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	MaxAge   time.Duration
}

// DialRedis connects to Redis and verifies the connection with PING, retried
// according to retryParam. The client is closed when the connection cannot
// be verified.
func DialRedis(ctx context.Context, opts RedisOptions, retryParam retry.RetryParam) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	store := newRedisStore(client, opts.Prefix, opts.MaxAge)
	if err := store.verify(ctx, retryParam); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func newRedisStore(client redisClient, prefix string, maxAge time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		maxAge: maxAge,
	}
}

func (r *RedisStore) verify(ctx context.Context, retryParam retry.RetryParam) error {
	_, err := retry.Retry(ctx, retryParam, func() (struct{}, failure.ClassifiedError) {
		if err := r.client.Ping(ctx).Err(); err != nil {
			return struct{}{}, &CacheError{
				Message:   err.Error(),
				Retryable: true,
				Cause:     ErrCauseUnreachable,
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("redis page cache: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &CacheError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     ErrCauseReadFailed,
		}
	}
	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.maxAge).Err(); err != nil {
		return &CacheError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     ErrCauseWriteFailed,
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
