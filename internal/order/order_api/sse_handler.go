package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pass-commerce/internal/auth"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/order"
	"pass-commerce/internal/sse"
)

// SSEHandler streams payment-status updates for an order to its owner
// while the checkout page waits for the provider callback.
type SSEHandler struct {
	Logger       *logger.Logger
	Emitter      *sse.PaymentEventEmitter
	OrderService *order.OrderService
}

func NewSSEHandler(log *logger.Logger, emitter *sse.PaymentEventEmitter, orderService *order.OrderService) *SSEHandler {
	return &SSEHandler{
		Logger:       log,
		Emitter:      emitter,
		OrderService: orderService,
	}
}

func (h *SSEHandler) HandleOrderEvents(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	owl, err := h.OrderService.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("order access verification failed: %v", err))
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	updates := h.Emitter.Subscribe(ctx, orderID)

	// Current state first, so a watcher connecting after the flip
	// still sees it.
	initial, _ := json.Marshal(sse.StatusUpdate{OrderID: orderID, Status: owl.Order.Status})
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", initial)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("client watching order %s", orderID))

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("serialize status update: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("client stopped watching order %s", orderID))
			return
		}
	}
}
