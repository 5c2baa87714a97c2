package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultCooldownPrefix = "facesentry:cooldown:"

// releaseScript deletes the key only while it still holds the window being released.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCooldown shares cooldown windows between instances through SETNX with a TTL.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldown creates a cooldown backed by client. An empty prefix uses the default.
func NewRedisCooldown(client *redis.Client, prefix string) *RedisCooldown {
	if prefix == "" {
		prefix = defaultCooldownPrefix
	}
	return &RedisCooldown{client: client, prefix: prefix}
}

func (r *RedisCooldown) Acquire(ctx context.Context, key string, at time.Time, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, r.prefix+key, at.Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisCooldown) Release(ctx context.Context, key string, at time.Time) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, at.Unix()).Err(); err != nil {
		return fmt.Errorf("cooldown release %s: %w", key, err)
	}
	return nil
}
