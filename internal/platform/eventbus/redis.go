// Package eventbus relays availability changes between server instances
// over Redis pub/sub so every instance's websocket hub sees every change.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/availability"
	"github.com/clinic/clinic/internal/platform/db"
)

const DefaultChannel = "clinic:availability"

// LocalDeliverer hands a change to subscribers connected to this instance.
type LocalDeliverer interface {
	Deliver(tenant string, change availability.ChangeEvent)
}

type envelope struct {
	Tenant string                   `json:"tenant"`
	Change availability.ChangeEvent `json:"change"`
}

// RedisRelay implements availability.EventPublisher. Published changes go to
// Redis only; Run delivers everything on the channel, including this
// instance's own changes, to the local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   LocalDeliverer
	logger  zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local LocalDeliverer, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local, logger: logger}
}

// NewClient parses a redis:// URL and checks the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// PublishChange sends the change to every instance. If Redis is unreachable
// the change still reaches this instance's subscribers.
func (r *RedisRelay) PublishChange(ctx context.Context, change availability.ChangeEvent) error {
	tenant := db.TenantFromContext(ctx)
	payload, err := json.Marshal(envelope{Tenant: tenant, Change: change})
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.local.Deliver(tenant, change)
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and delivers messages until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn().Err(err).Msg("discarding malformed relay message")
		return
	}
	r.local.Deliver(env.Tenant, env.Change)
}
