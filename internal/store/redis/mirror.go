// Package redis mirrors the latest accepted reading of every series into
// Redis, for dashboards and other consumers that want live values without
// touching the aggregator's internal state. The mirror is best-effort: the
// pipeline never blocks on Redis, and a circuit breaker with local
// buffering covers outages.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"sensornet/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// MirrorConfig configures the Redis mirror.
type MirrorConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// TTL of the latest-value keys; a series that stops reporting fades
	// out of Redis on its own. Default 30m.
	TTL time.Duration
}

// Mirror writes latest values and publishes record updates.
type Mirror struct {
	client *goredis.Client
	ttl    time.Duration
}

// Client returns the underlying Redis client for health checks.
func (m *Mirror) Client() *goredis.Client { return m.client }

// NewMirror creates a Mirror and pings the server.
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultLatestTTL
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Mirror{client: client, ttl: cfg.TTL}, nil
}

// Run drains record updates from ch until ctx is cancelled or ch is closed.
func (m *Mirror) Run(ctx context.Context, ch <-chan model.Payload) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			if err := m.writeRecord(ctx, p); err != nil {
				log.Printf("[redis] mirror write for %s/%s: %v", p.Group, p.Name, err)
			}
		}
	}
}

// writeRecord performs the pipelined SET + PUBLISH for one accepted record.
func (m *Mirror) writeRecord(ctx context.Context, p model.Payload) error {
	body, err := p.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data := string(body)
	latestKey := "latest:" + p.Group + ":" + p.Name
	pubsubCh := "pub:record:" + p.Group + ":" + p.Name

	pipe := m.client.Pipeline()
	pipe.Set(ctx, latestKey, data, m.ttl)
	pipe.Publish(ctx, pubsubCh, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Latest reads back the mirrored value of one series. Returns false when the
// key is missing or expired.
func (m *Mirror) Latest(ctx context.Context, group, name string) (model.Payload, bool, error) {
	data, err := m.client.Get(ctx, "latest:"+group+":"+name).Bytes()
	if err == goredis.Nil {
		return model.Payload{}, false, nil
	}
	if err != nil {
		return model.Payload{}, false, err
	}
	var p model.Payload
	if err := p.UnmarshalJSON(data); err != nil {
		return model.Payload{}, false, fmt.Errorf("stored value: %w", err)
	}
	return p, true, nil
}

// Close closes the Redis client.
func (m *Mirror) Close() error {
	return m.client.Close()
}
