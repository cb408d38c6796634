package stores

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/liut/parley/pkg/settings"
)

var (
	rcOnce sync.Once
	rcu    *redis.Client
)

// NewRC returns a redis client for uri and pings it
func NewRC(ctx context.Context, uri string) (*redis.Client, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err = c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// SgtRC start return a singleton instance of redis client, nil when RedisURI is empty
func SgtRC() *redis.Client {
	rcOnce.Do(func() {
		redisURI := settings.Current.RedisURI
		if len(redisURI) == 0 {
			return
		}
		var err error
		rcu, err = NewRC(context.Background(), redisURI)
		if err != nil {
			logger().Panicw("connect redis fail", "uri", redisURI, "err", err)
		}
	})

	return rcu
}
