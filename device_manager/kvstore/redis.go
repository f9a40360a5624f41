package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis at %v: %w", opts.Addr, err)
	}

	slog.Info("redis client initialized", "addr", opts.Addr, "db", opts.DB)

	return &Redis{client: client, prefix: opts.Prefix, timeout: 250 * time.Millisecond}, nil
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		slog.Error("redis error", "op", "set", "key", key, "error", err)
		return err
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		slog.Error("redis error", "op", "get", "key", key, "error", err)
		return "", false, err
	}
	return value, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		slog.Error("redis error", "op", "del", "key", key, "error", err)
		return err
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		slog.Error("redis error", "op", "exists", "key", key, "error", err)
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	redisKey := r.prefix + RateLimitPrefix + key
	counter, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		slog.Error("redis rate limiter error", "op", "incr", "error", err)
		return Decision{Allowed: true}
	}
	if counter == 1 {
		if err := r.client.Expire(ctx, redisKey, window).Err(); err != nil {
			slog.Error("redis rate limiter error", "op", "expire", "error", err)
		}
	}
	ttl, err := r.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return Decision{
		Allowed:   int(counter) <= limit,
		Count:     int(counter),
		WindowEnd: time.Now().Add(ttl),
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
