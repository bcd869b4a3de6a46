package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"expertdraw/internal/domain"
	"expertdraw/internal/logger"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process pointed at the same server.
type Redis struct {
	Client *goredis.Client
	Prefix string
	TTL    time.Duration
	Wait   time.Duration
	Poll   time.Duration
	Log    *logger.Logger
}

// NewRedis dials addr and checks it answers.
func NewRedis(ctx context.Context, addr, prefix string, ttl, wait time.Duration, log *logger.Logger) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Redis{Client: rdb, Prefix: prefix, TTL: ttl, Wait: wait, Log: log.With("service", "RedisLock")}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	if r == nil || r.Client == nil {
		return nil, fmt.Errorf("redis lock not initialized")
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	poll := r.Poll
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}
	if r.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Wait)
		defer cancel()
	}
	name := r.Prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ok, err := r.Client.SetNX(ctx, name, token, ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis lock %s: %w", name, err)
		}
		if ok {
			return func() {
				// release must outlive a cancelled request context
				relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := releaseScript.Run(relCtx, r.Client, []string{name}, token).Err(); err != nil {
					r.Log.Warn("redis lock release failed", "key", name, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: draw %s is busy", domain.ErrConflict, key)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
