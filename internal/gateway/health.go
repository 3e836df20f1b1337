package gateway

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
)

// TemporalPinger adapts the Temporal client health check to the clue health
// checker.
type TemporalPinger struct {
	tc client.Client
}

// NewTemporalPinger wraps a Temporal client for health checks.
func NewTemporalPinger(tc client.Client) *TemporalPinger {
	return &TemporalPinger{tc: tc}
}

// Name implements health.Pinger.
func (p *TemporalPinger) Name() string { return "temporal" }

// Ping implements health.Pinger.
func (p *TemporalPinger) Ping(ctx context.Context) error {
	_, err := p.tc.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

// RedisPinger adapts a Redis client to the clue health checker.
type RedisPinger struct {
	rdb *redis.Client
}

// NewRedisPinger wraps a Redis client for health checks.
func NewRedisPinger(rdb *redis.Client) *RedisPinger {
	return &RedisPinger{rdb: rdb}
}

// Name implements health.Pinger.
func (p *RedisPinger) Name() string { return "redis" }

// Ping implements health.Pinger.
func (p *RedisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
