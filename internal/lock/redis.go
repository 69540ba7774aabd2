package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisOptions configures a RedisLocker
type RedisOptions struct {
	Prefix       string
	TTL          time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
}

// RedisLocker is a Locker shared by every worker connected to the same Redis.
//
// A held lock is refreshed by a watchdog until released, so the TTL only
// bounds how long a crashed holder keeps the asset locked.
type RedisLocker struct {
	client *redis.Client
	opts   RedisOptions
	logger *logging.Logger
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redis.Client, opts RedisOptions, logger *logging.Logger) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "lock:asset:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &RedisLocker{client: client, opts: opts, logger: logger}
}

// Lock polls until the key is acquired, ctx is done or the timeout elapses
func (l *RedisLocker) Lock(ctx context.Context, key string) (*Releaser, error) {
	redisKey := l.opts.Prefix + key
	token := uuid.New().String()

	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.opts.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			go l.watchdog(redisKey, token, stop)

			return NewReleaser(key, func() {
				close(stop)
				l.release(redisKey, token)
			}), nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) watchdog(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.opts.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.opts.TTL/3)
			n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.opts.TTL.Milliseconds()).Int()
			cancel()

			if err != nil {
				l.logger.WithField("key", redisKey).ErrorWithErr("Failed to extend lock", err)
				continue
			}
			if n == 0 {
				l.logger.WithField("key", redisKey).Warn("Lock lost before release")
				return
			}
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.WithField("key", redisKey).ErrorWithErr("Failed to release lock", err)
	}
}
