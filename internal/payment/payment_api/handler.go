package payment_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pass-commerce/internal/auth"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/payment"
	"pass-commerce/internal/utils"
)

type Handler struct {
	PaymentService *payment.Service
	Reconciler     *payment.Reconciler
	Logger         *logger.Logger
}

func NewHandler(svc *payment.Service, rec *payment.Reconciler, log *logger.Logger) *Handler {
	return &Handler{
		PaymentService: svc,
		Reconciler:     rec,
		Logger:         log,
	}
}

// Initiate starts a checkout for an order with the chosen provider.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		OrderID string `json:"order_id"`
		Method  string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.OrderID == "" || req.Method == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("order_id and method are required", ""))
		return
	}

	result, err := h.PaymentService.Initiate(r.Context(), userID, req.OrderID, models.PaymentMethod(req.Method))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Initiate: %v", err))
		var transitionErr *models.InvalidTransitionError
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
		case errors.As(err, &transitionErr):
			utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Order is not awaiting payment", err.Error()))
		default:
			utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse("Could not start payment", err.Error()))
		}
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment initiated", result))
}

// Status reports the payment and order state of one order.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	orderID := chi.URLParam(r, "orderId")

	pay, orderStatus, err := h.PaymentService.Status(r.Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("Status: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not fetch payment status", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment status", map[string]interface{}{
		"order_status": orderStatus,
		"payment":      pay,
	}))
}

// Callback handles one provider's webhook. The provider adapter
// authenticates the payload; reconciliation applies it. The provider
// is always acknowledged with 200 so verified-but-unprocessable
// callbacks are not redelivered forever; failures are logged and
// picked up by reconciliation sweeps.
func (h *Handler) Callback(provider payment.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.Logger.Error("API", fmt.Sprintf("Callback: read body: %v", err))
			w.WriteHeader(http.StatusOK)
			return
		}

		result, err := provider.ParseCallback(body, r.Header)
		if err != nil {
			if errors.Is(err, models.ErrUntrustedCallback) {
				// The one case that is NOT acknowledged: an unverified
				// sender gets no signal about payload handling.
				h.Logger.LogSecurity("CALLBACK", fmt.Sprintf("%s: rejected unverified callback", provider.Method()))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h.Logger.Error("API", fmt.Sprintf("Callback: %s: %v", provider.Method(), err))
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := h.Reconciler.Reconcile(r.Context(), result); err != nil {
			h.Logger.Error("PAYMENT", fmt.Sprintf("reconcile %s ref %s: %v", provider.Method(), result.ProviderRef, err))
		}
		w.WriteHeader(http.StatusOK)
	}
}
