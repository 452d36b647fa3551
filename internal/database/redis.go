package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"linguaconnect-signaling/pkg/logger"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps the Redis client with degraded mode support. When Redis
// is unreachable the presence mirror and friend-graph reads degrade instead of
// failing connection handling.
type RedisClient struct {
	Client *redis.Client

	degradedMode   bool
	degradedModeMu sync.RWMutex
}

// NewRedisClient creates a new Redis client and performs an initial ping.
// A failed ping puts the client into degraded mode instead of returning an
// error, so the signaling core keeps working without the mirror.
func NewRedisClient(cfg *RedisConfig) *RedisClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		DialTimeout:  timeout,
	})

	r := &RedisClient{Client: client}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, starting in degraded mode", zap.Error(err))
		r.setDegraded(true)
	}

	return r
}

// Close closes the Redis client connection
func (r *RedisClient) Close() {
	r.Client.Close()
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedModeMu.RLock()
	defer r.degradedModeMu.RUnlock()
	return r.degradedMode
}

func (r *RedisClient) setDegraded(degraded bool) {
	r.degradedModeMu.Lock()
	defer r.degradedModeMu.Unlock()
	if r.degradedMode != degraded {
		if degraded {
			logger.Warn("Redis entering degraded mode")
		} else {
			logger.Info("Redis recovered from degraded mode")
		}
	}
	r.degradedMode = degraded
}

// HealthCheck pings Redis and updates the degraded flag
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	err := r.Client.Ping(ctx).Err()
	r.setDegraded(err != nil)
	return err
}

// StartHealthCheck starts a background goroutine that periodically checks Redis health
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				r.HealthCheck(checkCtx)
				cancel()
			}
		}
	}()
}
