package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryBrokerPreservesMessageIDAcrossRepublication(t *testing.T) {
	broker := NewMemoryBroker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	err := broker.Subscribe(ctx, "order.paid", "g1",
		func(_ context.Context, messageID string, _ []byte) error {
			mu.Lock()
			got = append(got, messageID)
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// The relay republishing the same outbox row must not change the
	// delivery identity, or consumer-side dedup would never fire.
	payload := []byte(`{"event_id":"evt-1"}`)
	if err := broker.Publish(ctx, "order.paid", "k1", "row-1", payload); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if err := broker.Publish(ctx, "order.paid", "k1", "row-1", payload); err != nil {
		t.Fatalf("second publish failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected two deliveries, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got[0] != "row-1" || got[1] != "row-1" {
		t.Fatalf("deliveries must share the published messageID, got %v", got)
	}
}

func TestMemoryBrokerBackpressuresInsteadOfDropping(t *testing.T) {
	broker := NewMemoryBroker(nil)

	// A subscriber that never drains: publish must not silently drop the
	// delivery and report success.
	broker.subscribers["t"] = []chan delivery{make(chan delivery)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := broker.Publish(ctx, "t", "k1", "row-1", []byte("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the publish to fail rather than drop, got %v", err)
	}
}
