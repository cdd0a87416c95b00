package sse

import (
	"context"
	"sync"

	"pass-commerce/internal/models"
)

// StatusUpdate is one payment-status flip delivered to a checkout
// watcher.
type StatusUpdate struct {
	OrderID string             `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
}

// PaymentEventEmitter broadcasts order status changes to SSE clients
// watching a checkout. Subscriptions are per order.
type PaymentEventEmitter struct {
	clients map[string][]chan StatusUpdate
	mu      sync.RWMutex
}

func NewPaymentEventEmitter() *PaymentEventEmitter {
	return &PaymentEventEmitter{
		clients: make(map[string][]chan StatusUpdate),
	}
}

// Subscribe adds a watcher for one order. The channel closes when the
// context is done.
func (e *PaymentEventEmitter) Subscribe(ctx context.Context, orderID string) chan StatusUpdate {
	clientChan := make(chan StatusUpdate, 10)

	e.mu.Lock()
	e.clients[orderID] = append(e.clients[orderID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(orderID, clientChan)
	}()

	return clientChan
}

// Publish fans a status flip out to every watcher of the order.
// Non-blocking: a slow client misses updates rather than stalling
// reconciliation.
func (e *PaymentEventEmitter) Publish(orderID string, status models.OrderStatus) {
	e.mu.RLock()
	clients := e.clients[orderID]
	e.mu.RUnlock()

	update := StatusUpdate{OrderID: orderID, Status: status}
	for _, clientChan := range clients {
		select {
		case clientChan <- update:
		default:
		}
	}
}

func (e *PaymentEventEmitter) remove(orderID string, clientChan chan StatusUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[orderID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[orderID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[orderID]) == 0 {
		delete(e.clients, orderID)
	}
}

// ClientCount reports the number of watchers on an order.
func (e *PaymentEventEmitter) ClientCount(orderID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[orderID])
}
