package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finlit-network/backend/internal/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	redisKeyPrefix = "finlit:ledger:"
	redisLeaseKey  = "finlit:ledger-writer"
)

var renewLeaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var releaseLeaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisBackend keeps one hash per namespace.
type RedisBackend struct {
	client  redis.UniversalClient
	timeout time.Duration
	lease   leaseTiming
	log     logrus.FieldLogger
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(ctx context.Context, opts RedisOptions, log logrus.FieldLogger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisBackendWithClient(client, log), nil
}

func NewRedisBackendWithClient(client redis.UniversalClient, log logrus.FieldLogger) *RedisBackend {
	return &RedisBackend{
		client:  client,
		timeout: DefaultTimeout,
		lease:   defaultLeaseTiming(),
		log:     log.WithField("component", "storage").WithField("backend", "redis"),
	}
}

func (b *RedisBackend) Scope(namespace string) Store {
	return &redisStore{backend: b, hash: redisKeyPrefix + namespace}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisStore struct {
	backend *RedisBackend
	hash    string
}

func (s *redisStore) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	value, err := s.backend.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		s.backend.log.WithError(err).WithField("key", key).Warn("read failed")
		metrics.RecordStoreFailure("redis", "get")
		return "", false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return value, true, nil
}

func (s *redisStore) Set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	if err := s.backend.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		s.backend.log.WithError(err).WithField("key", key).Warn("write dropped")
		metrics.RecordStoreFailure("redis", "set")
	}
}

// ── Writer lease ────────────────────────────────────────

func (b *RedisBackend) AcquireWriter(ctx context.Context, owner string) (<-chan struct{}, error) {
	setCtx, cancel := context.WithTimeout(ctx, b.timeout)
	ok, err := b.client.SetNX(setCtx, redisLeaseKey, owner, b.lease.ttl).Result()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire writer lease: %w", err)
	}
	if !ok {
		return nil, ErrWriterActive
	}
	b.log.WithField("owner", owner).Info("writer lease acquired")

	renew := func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		n, err := renewLeaseScript.Run(ctx, b.client, []string{redisLeaseKey}, owner, b.lease.ttl.Milliseconds()).Int()
		if err != nil {
			return false, err
		}
		return n == 1, nil
	}
	release := func(ctx context.Context) {
		if err := releaseLeaseScript.Run(ctx, b.client, []string{redisLeaseKey}, owner).Err(); err != nil {
			b.log.WithError(err).Warn("writer lease release failed")
		}
	}
	return holdLease(ctx, b.lease, renew, release, b.log), nil
}
