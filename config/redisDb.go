package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ConnectRedisWithRetry connects to addr and returns the client plus a lock
// client on top of it. An empty addr means redis is not configured and both
// results are nil; callers fall back to in-process caching and skip locking.
func ConnectRedisWithRetry(ctx context.Context, addr string) (*redis.Client, *redislock.Client, error) {
	if addr == "" {
		log.Printf("REDIS_ADDRESS not set; using in-process cache and no run lock")
		return nil, nil, nil
	}

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 100,
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, addr)
			return rdb, redislock.New(rdb), nil
		}
		_ = rdb.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, addr, err, sleep)
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("connect redis: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(sleep):
		}
	}
}
