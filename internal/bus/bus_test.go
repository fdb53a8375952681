package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type collector struct {
	mu       sync.Mutex
	payloads [][]byte
	notify   chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 64)}
}

func (c *collector) handle(_ context.Context, payload []byte) {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *collector) first() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return nil
	}
	return c.payloads[0]
}

func (c *collector) sawPayload(p []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.payloads {
		if string(got) == string(p) {
			return true
		}
	}
	return false
}

func newRedisClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// publishUntilReceived works around the inherent subscribe/publish race of
// pub/sub: a subscriber that is not yet attached simply misses the message,
// which is exactly the bus contract. The test republishes until every
// collector has seen at least one delivery.
func publishUntilReceived(t *testing.T, b *Bus, payload []byte, collectors ...*collector) {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	pending := make(map[*collector]bool, len(collectors))
	for _, c := range collectors {
		pending[c] = true
	}

	for len(pending) > 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for delivery to %d subscriber(s)", len(pending))
		case <-tick.C:
			if err := b.Publish(ctx, payload); err != nil {
				t.Fatalf("publish: %v", err)
			}
			for c := range pending {
				if c.first() != nil {
					delete(pending, c)
				}
			}
		}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := New(newRedisClient(t, mr.Addr()))
	col := newCollector()
	go sub.Run(ctx, col.handle)

	pub := New(newRedisClient(t, mr.Addr()))
	payload := []byte(`{"type":"message-deleted-event","data":{"chatId":"c1","messageId":"m1"}}`)
	publishUntilReceived(t, pub, payload, col)

	if string(col.first()) != string(payload) {
		t.Errorf("payload altered in transit: got %s", col.first())
	}
}

// Broadcast, not work-queue: every subscribed gateway process receives every
// message, because each one fans out to its own locally-connected clients.
func TestBroadcastReachesAllSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	colA, colB := newCollector(), newCollector()
	subA := New(newRedisClient(t, mr.Addr()))
	subB := New(newRedisClient(t, mr.Addr()))
	go subA.Run(ctx, colA.handle)
	go subB.Run(ctx, colB.handle)

	pub := New(newRedisClient(t, mr.Addr()))
	payload := []byte(`{"type":"chat-created-event","data":{"chatId":"c1","members":[{"id":"u1"}]}}`)
	publishUntilReceived(t, pub, payload, colA, colB)

	if colA.first() == nil || colB.first() == nil {
		t.Fatal("expected both subscribers to receive the broadcast")
	}
}

func TestPublishEventWrapsEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := New(newRedisClient(t, mr.Addr()))
	col := newCollector()
	go sub.Run(ctx, col.handle)

	pub := New(newRedisClient(t, mr.Addr()))

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for col.first() == nil {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		case <-tick.C:
			err := pub.PublishEvent(context.Background(), domain.MessageDeletedEvent, &domain.MessageDeletedPayload{
				ChatID:    "c1",
				MessageID: "m1",
			})
			if err != nil {
				t.Fatalf("publish event: %v", err)
			}
		}
	}

	var env domain.Envelope
	if err := json.Unmarshal(col.first(), &env); err != nil {
		t.Fatalf("delivered payload is not an envelope: %v", err)
	}
	if env.Type != domain.MessageDeletedEvent {
		t.Errorf("expected discriminator %q, got %q", domain.MessageDeletedEvent, env.Type)
	}

	var p domain.MessageDeletedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if p.ChatID != "c1" || p.MessageID != "m1" {
		t.Errorf("payload roundtrip: got %+v", p)
	}
}

// A lost server connection must not kill the delivery loop: Run backs off,
// resubscribes, and deliveries resume once the server is reachable again.
// The notifications published while the subscription was down stay lost,
// which is the bus contract.
func TestRunResubscribesAfterConnectionLoss(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := New(newRedisClient(t, mr.Addr()))
	col := newCollector()
	go sub.Run(ctx, col.handle)

	pub := New(newRedisClient(t, mr.Addr()))
	first := []byte(`{"type":"message-deleted-event","data":{"chatId":"c1","messageId":"m1"}}`)
	publishUntilReceived(t, pub, first, col)

	// Kill every connection, the live subscription included, then bring the
	// server back on the same address.
	mr.Close()
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart server: %v", err)
	}

	second := []byte(`{"type":"message-edited-event","data":{"chatId":"c1","messageId":"m2"}}`)

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !col.sawPayload(second) {
		select {
		case <-deadline:
			t.Fatal("subscription was not re-established after the connection loss")
		case <-tick.C:
			// The publishing client reconnects on its own; an error here
			// just means not yet.
			if err := pub.Publish(context.Background(), second); err != nil {
				continue
			}
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub := New(newRedisClient(t, mr.Addr()))

	done := make(chan error, 1)
	go func() {
		done <- sub.Run(ctx, func(context.Context, []byte) {})
	}()

	// Give the subscription a moment to establish, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
