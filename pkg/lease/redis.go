package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flowstatus:lease:"

// releaseScript deletes the key only if it still carries our token, so an
// expired lease re-taken by another pass is not released by mistake.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// redisClient is the subset of go-redis used by RedisLocker. It is
// implemented by the real client adapter and by test doubles.
type redisClient interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, value string) error
	Close() error
}

type goRedisClient struct {
	client *redis.Client
}

func (c *goRedisClient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

func (c *goRedisClient) ReleaseIfOwner(ctx context.Context, key, value string) error {
	return releaseScript.Run(ctx, c.client, []string{key}, value).Err()
}

func (c *goRedisClient) Close() error {
	return c.client.Close()
}

// RedisConfig configures RedisLocker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// TTL bounds how long a crashed holder blocks a run.
	TTL time.Duration
}

// RedisLocker takes leases as SET NX keys with a TTL, for passes running on
// different hosts.
type RedisLocker struct {
	client redisClient
	ttl    time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker returns a locker backed by a Redis server. No connection is
// made until the first Acquire.
func NewRedisLocker(cfg RedisConfig) *RedisLocker {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{
		client: &goRedisClient{client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})},
		ttl: ttl,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	k := redisKeyPrefix + sanitizeKey(key)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", k, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	return &redisLease{client: l.client, key: k, token: token}, nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	client redisClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := l.client.ReleaseIfOwner(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
