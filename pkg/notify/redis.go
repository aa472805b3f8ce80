package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// redisPublisher is the part of *redis.Client the notifier uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Redis publishes anomalies on a pub/sub channel.
type Redis struct {
	client  redisPublisher
	channel string
	l       *logger.Logger
}

// NewRedis connects to addr, which is either host:port or a redis:// URL.
// An unreachable server is logged but not fatal; publishes will fail until
// it comes back.
func NewRedis(ctx context.Context, addr, channel string, l *logger.Logger) (*Redis, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, config.NotifyPublishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		l.Warning("redis ping failed, anomalies will not be published until it recovers", map[string]any{
			"addr":  opts.Addr,
			"error": err.Error(),
		})
	}

	return newRedis(client, channel, l), nil
}

func newRedis(client redisPublisher, channel string, l *logger.Logger) *Redis {
	if channel == "" {
		channel = config.DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel, l: l}
}

func (r *Redis) Publish(ctx context.Context, anomalies []traffic.Anomaly) error {
	var errs []error
	for _, a := range anomalies {
		payload, err := Encode(a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis publish to %s: %w", r.channel, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Close() error { return r.client.Close() }
