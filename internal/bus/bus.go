package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatrelay/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Channel is the well-known pub/sub channel carrying domain event envelopes
// from API processes to gateway processes.
const Channel = "chat:events"

// Handler consumes one raw bus payload. Handlers run synchronously in
// delivery order; the next message is not read until the handler returns.
type Handler func(ctx context.Context, payload []byte)

// Bus is the cross-process notification channel. Redis pub/sub gives the
// broadcast semantics the fan-out needs: every subscribed gateway process
// receives every message. There is no replay; the relational store stays
// the source of truth.
type Bus struct {
	redis   *redis.Client
	channel string
}

func New(rdb *redis.Client) *Bus {
	return &Bus{
		redis:   rdb,
		channel: Channel,
	}
}

// Publish broadcasts one envelope to all currently-subscribed processes.
// Fire and forget: a subscriber that is down at publish time misses it.
func (b *Bus) Publish(ctx context.Context, payload []byte) error {
	if err := b.redis.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", domain.ErrTransport, b.channel, err)
	}
	return nil
}

// PublishEvent marshals a typed payload into the {type, data} envelope and
// publishes it. This is the entire contract the HTTP layer honors.
func (b *Bus) PublishEvent(ctx context.Context, t domain.EventType, v any) error {
	raw, err := domain.NewEnvelope(t, v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, raw)
}

// Run subscribes to the channel and pumps payloads into the handler until
// the context is canceled. A lost subscription is re-established with capped
// exponential backoff; a missed window of notifications is not recovered.
func (b *Bus) Run(ctx context.Context, handle Handler) error {
	backoff := retry.WithCappedDuration(10*time.Second, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := b.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Error("Bus subscription lost, resubscribing", "channel", b.channel, "error", err)
		return retry.RetryableError(err)
	})
}

func (b *Bus) consume(ctx context.Context, handle Handler) error {
	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Confirm the subscription before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: subscribe to %s: %v", domain.ErrTransport, b.channel, err)
	}
	slog.Info("Bus subscription established", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("%w: subscription channel closed", domain.ErrTransport)
			}
			handle(ctx, []byte(msg.Payload))
		}
	}
}
