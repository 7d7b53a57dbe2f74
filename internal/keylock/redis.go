package keylock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	iredis "github.com/goran-ethernal/ChainProjector/internal/redis"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	goredis "github.com/redis/go-redis/v9"
)

const (
	backendRedis = "redis"

	// the lease is renewed this many times per TTL
	renewalsPerTTL = 3
)

// releaseScript deletes a key only if it still holds this holder's token.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendScript resets a key's expiry only if it still holds this holder's token.
var extendScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every projector process pointing at the same Redis.
// A key is held by SET NX PX with a random token. While held, the lease is renewed
// every TTL/3, so TTL only bounds how long a crashed holder blocks others.
type Redis struct {
	client        *iredis.Client
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	log           *logger.Logger
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client *iredis.Client, cfg config.RedisConfig, log *logger.Logger) *Redis {
	return &Redis{
		client:        client,
		prefix:        cfg.Prefix,
		ttl:           cfg.TTL.Duration,
		retryInterval: cfg.RetryInterval.Duration,
		log:           log,
	}
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, keys ...string) (Lease, error) {
	keys = normalize(keys)
	start := time.Now()

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	lease := &redisLease{
		r:     r,
		token: token,
		keys:  make([]string, 0, len(keys)),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	for _, key := range keys {
		if err := r.acquire(ctx, r.prefix+key, token); err != nil {
			lease.releaseKeys()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		lease.keys = append(lease.keys, r.prefix+key)
	}

	metrics.KeyLockWaitLog(backendRedis, time.Since(start))

	go lease.renew()

	return lease, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// redisLease keeps its keys alive until released, and remembers if one was lost.
type redisLease struct {
	r     *Redis
	token string
	keys  []string

	lost atomic.Bool
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// renew extends every key each TTL/3 until Release, or until a key is found taken.
func (l *redisLease) renew() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval())
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if !l.extend() {
				return
			}
		}
	}
}

func (l *redisLease) interval() time.Duration {
	return max(l.r.ttl/renewalsPerTTL, time.Millisecond)
}

func (l *redisLease) extend() bool {
	ctx, cancel := context.WithTimeout(context.Background(), l.interval())
	defer cancel()

	for _, key := range l.keys {
		n, err := extendScript.Run(ctx, l.r.client, []string{key}, l.token, l.r.ttl.Milliseconds()).Int64()
		if err != nil {
			// Held re-checks before anything commits
			l.r.log.Warnf("failed to renew lock %s: %v", key, err)
			continue
		}
		if n == 0 {
			l.r.log.Errorf("lock %s expired before renewal", key)
			l.lost.Store(true)
			return false
		}
	}
	return true
}

// Held checks every key still carries this lease's token.
func (l *redisLease) Held(ctx context.Context) error {
	if l.lost.Load() {
		return ErrLeaseLost
	}

	for _, key := range l.keys {
		owner, err := l.r.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("check lock %s: %w", key, err)
		}
		if owner != l.token {
			l.lost.Store(true)
			return fmt.Errorf("%w: %s", ErrLeaseLost, key)
		}
	}
	return nil
}

func (l *redisLease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.releaseKeys()
	})
}

func (l *redisLease) releaseKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), l.r.ttl)
	defer cancel()

	for _, key := range l.keys {
		if err := releaseScript.Run(ctx, l.r.client, []string{key}, l.token).Err(); err != nil {
			l.r.log.Warnf("failed to release lock %s: %v", key, err)
		}
	}
}

func newToken() (string, error) {
	buf := make([]byte, 16) //nolint:mnd
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
