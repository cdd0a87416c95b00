package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pass-commerce/internal/models"
)

func TestPublishReachesAllWatchers(t *testing.T) {
	emitter := NewPaymentEventEmitter()
	ctx := context.Background()

	ch1 := emitter.Subscribe(ctx, "order-1")
	ch2 := emitter.Subscribe(ctx, "order-1")
	other := emitter.Subscribe(ctx, "order-2")

	emitter.Publish("order-1", models.OrderPaid)

	for _, ch := range []chan StatusUpdate{ch1, ch2} {
		select {
		case update := <-ch:
			assert.Equal(t, "order-1", update.OrderID)
			assert.Equal(t, models.OrderPaid, update.Status)
		case <-time.After(time.Second):
			t.Fatal("watcher did not receive the update")
		}
	}

	select {
	case <-other:
		t.Fatal("watcher of another order received the update")
	default:
	}
}

func TestSubscribeClosesOnContextDone(t *testing.T) {
	emitter := NewPaymentEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := emitter.Subscribe(ctx, "order-1")
	require.Equal(t, 1, emitter.ClientCount("order-1"))

	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}
	assert.Eventually(t, func() bool {
		return emitter.ClientCount("order-1") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPublishNeverBlocksOnSlowWatcher(t *testing.T) {
	emitter := NewPaymentEventEmitter()
	ch := emitter.Subscribe(context.Background(), "order-1")

	// Fill the buffer and keep going; extra updates are dropped, not
	// queued behind a stalled reader.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			emitter.Publish("order-1", models.OrderPaid)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow watcher")
	}
	assert.Equal(t, 10, len(ch))
}

func TestPublishWithNoWatchersIsNoOp(t *testing.T) {
	emitter := NewPaymentEventEmitter()
	emitter.Publish("order-unknown", models.OrderCancelled)
	assert.Equal(t, 0, emitter.ClientCount("order-unknown"))
}
