package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Devuelve {intentos en la ventana, ms restantes de la ventana}.
const redisWindowScript = `
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`

const redisLimitTimeout = 500 * time.Millisecond

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

// NewRedisRateLimiter crea un limiter de ventana fija compartido entre instancias.
// Ante errores de Redis deja pasar la peticion.
func NewRedisRateLimiter(client redis.UniversalClient, window time.Duration, max int) RateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "auth:rl:",
	}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l == nil || l.client == nil {
		return true, 0
	}
	key = normalizeLimitKey(key)
	if key == "" {
		return false, l.window
	}
	ctx, cancel := context.WithTimeout(ctx, redisLimitTimeout)
	defer cancel()

	res, err := l.client.Eval(ctx, redisWindowScript, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return true, 0
	}
	if res[0] <= int64(l.max) {
		return true, 0
	}
	remaining := time.Duration(res[1]) * time.Millisecond
	if remaining <= 0 {
		remaining = l.window
	}
	return false, remaining
}
