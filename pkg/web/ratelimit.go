package web

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const limiterPrefix = "parley_limiter"

// newLimiter returns a per-client-IP rate limit middleware, or a pass-through when formatted is empty.
// With rc the counters live in redis, shared by every instance.
func newLimiter(formatted string, rc *redis.Client) (func(http.Handler) http.Handler, error) {
	if len(formatted) == 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if rc != nil {
		store, err = sredis.NewStoreWithOptions(rc, limiter.StoreOptions{Prefix: limiterPrefix})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: limiterPrefix})
	}
	logger().Infow("rate limit", "rate", formatted, "redis", rc != nil)

	return stdlib.NewMiddleware(limiter.New(store, rate)).Handler, nil
}
