// Package redis implements the request dedup store on Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dedup:"

// release deletes the claim only while it still holds the token this process wrote, so a
// late release cannot drop a claim that expired and was taken by another replica.
var release = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Dedup is a servicebus.DedupStore backed by SETNX with expiry.
type Dedup struct {
	client redis.UniversalClient
	token  string
}

// NewDedup wraps client. token identifies this process's claims, usually the service name
// plus a host id.
func NewDedup(client redis.UniversalClient, token string) *Dedup {
	if token == "" {
		token = "1"
	}

	return &Dedup{client: client, token: token}
}

func (d *Dedup) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, keyPrefix+key, d.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis reserve %s: %w", key, err)
	}

	return ok, nil
}

func (d *Dedup) Release(ctx context.Context, key string) error {
	if err := release.Run(ctx, d.client, []string{keyPrefix + key}, d.token).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}

	return nil
}

// Connect opens a client for addr and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return client, nil
}
