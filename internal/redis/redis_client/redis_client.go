package redis_client

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to the shared redis that carries presence,
// room fan-out and node leases. name shows up in CLIENT LIST.
func NewRedisClient(ctx context.Context, host string, port int, name string) (*redis.Client, error) {
	rc := redis.NewClient(Options(host, port, name))

	ctx, cancelFunc := context.WithTimeout(ctx, 5*time.Second)
	defer cancelFunc()
	_, err := rc.Ping(ctx).Result()
	if err != nil {
		_ = rc.Close()
		err = errors.New("Redis connection failed: " + err.Error())
		zap.L().Error("redis_connect", zap.Error(err))
		return nil, err
	}
	return rc, nil
}

// Options sizes the pool for many concurrent pub/sub deliveries.
func Options(host string, port int, name string) *redis.Options {
	maxPool := runtime.NumCPU() * 8
	if maxPool > 512 {
		maxPool = 512
	}
	return &redis.Options{
		Addr:       fmt.Sprintf("%s:%d", host, port),
		ClientName: name,
		PoolSize:   maxPool,
		// publish to a node that just died must not stall a handler
		WriteTimeout: time.Second,
	}
}
