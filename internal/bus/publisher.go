// Package bus wraps the Redis pub/sub event bus. Publishes are
// best-effort: a failed publish is logged and dropped, and the client is
// reset so the next call reconnects lazily. Bus trouble must never block
// detection or cluster operations.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deceptionops/deception-backend/internal/pkg/metrics"
)

const (
	dialTimeout  = 5 * time.Second
	readTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
)

// Publisher is a lazily-connecting Redis publisher. Safe for concurrent use.
type Publisher struct {
	url string
	log *slog.Logger

	mu     sync.Mutex
	client *redis.Client
}

func NewPublisher(url string, log *slog.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// get returns a verified client, creating one if needed. Returns nil when
// Redis is unavailable.
func (p *Publisher) get(ctx context.Context) *redis.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client
	}

	opts, err := redis.ParseURL(p.url)
	if err != nil {
		p.log.Warn("invalid redis url", "error", err)
		return nil
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = readTimeout
	opts.WriteTimeout = writeTimeout
	opts.MaxRetries = 0

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		p.log.Warn("redis unavailable", "error", err)
		_ = client.Close()
		return nil
	}

	p.log.Info("redis publisher connected", "url", p.url)
	p.client = client
	return p.client
}

// reset drops the cached client so the next publish reconnects.
func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}
}

// Publish marshals event to JSON and publishes it on channel. Failures
// are swallowed after logging; the caller continues regardless.
func (p *Publisher) Publish(ctx context.Context, channel string, event interface{}) {
	client := p.get(ctx)
	if client == nil {
		metrics.BusPublishFailuresTotal.WithLabelValues(channel).Inc()
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("event marshal failed", "channel", channel, "error", err)
		metrics.BusPublishFailuresTotal.WithLabelValues(channel).Inc()
		return
	}

	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn("redis publish failed", "channel", channel, "error", err)
		metrics.BusPublishFailuresTotal.WithLabelValues(channel).Inc()
		p.reset()
	}
}

// Ping reports bus connectivity for health endpoints.
func (p *Publisher) Ping(ctx context.Context) error {
	client := p.get(ctx)
	if client == nil {
		return fmt.Errorf("redis unavailable")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		p.reset()
		return err
	}
	return nil
}

// Close releases the underlying connection if one exists.
func (p *Publisher) Close() {
	p.reset()
}
