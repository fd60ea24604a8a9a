// Package mq carries cascade cleanup events from the poll service to the
// user directory over a pluggable queue.
package mq

import (
	"context"
	"fmt"

	"github.com/VdotR/polling-system/config"
	"github.com/VdotR/polling-system/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// MQAdapter selects a Broker from configuration and records metrics for
// every event it handles.
type MQAdapter struct {
	driver string
	broker Broker
}

// NewMQAdapter builds the configured driver. A RocketMQ that cannot start
// falls back to the in-process queue.
func NewMQAdapter(cfg config.MQConfig, redisClient *redis.Client) (*MQAdapter, error) {
	switch cfg.Driver {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("mq driver redis needs a Redis client")
		}
		return &MQAdapter{driver: "redis", broker: NewRedisMQ(redisClient, cfg.MaxRetries, cfg.RetryDelay)}, nil
	case "rocketmq":
		broker, err := NewRocketMQ(cfg.RocketNameServers, cfg.MaxRetries)
		if err != nil {
			log.Warn().Err(err).Msg("RocketMQ unavailable, using in-process queue")
			return NewMemoryAdapter(cfg.MaxRetries), nil
		}
		return &MQAdapter{driver: "rocketmq", broker: broker}, nil
	default:
		return NewMemoryAdapter(cfg.MaxRetries), nil
	}
}

// NewMemoryAdapter returns an adapter whose events are handled inline.
func NewMemoryAdapter(maxRetries int) *MQAdapter {
	return &MQAdapter{driver: "memory", broker: NewMemoryMQ(maxRetries)}
}

// NewAdapter wraps an existing broker.
func NewAdapter(driver string, broker Broker) *MQAdapter {
	return &MQAdapter{driver: driver, broker: broker}
}

func (a *MQAdapter) Driver() string {
	return a.driver
}

func (a *MQAdapter) Publish(ctx context.Context, event CascadeEvent) error {
	return a.broker.Publish(ctx, event)
}

// RegisterHandler starts consuming with handler.
func (a *MQAdapter) RegisterHandler(handler Handler) error {
	instrumented := func(ctx context.Context, event CascadeEvent) error {
		err := handler(ctx, event)
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.CascadeEvents.WithLabelValues(string(event.Type), result).Inc()
		return err
	}
	if err := a.broker.Start(instrumented); err != nil {
		return err
	}
	log.Info().Str("driver", a.driver).Msg("cascade event handler registered")
	return nil
}

func (a *MQAdapter) Close() {
	a.broker.Stop()
	log.Info().Str("driver", a.driver).Msg("message queue closed")
}

func (a *MQAdapter) GetQueueStats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"type":   a.driver,
		"queues": a.broker.Stats(ctx),
	}
}
