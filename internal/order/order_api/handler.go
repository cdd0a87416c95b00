package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pass-commerce/internal/auth"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/order"
	"pass-commerce/internal/promo"
	"pass-commerce/internal/utils"
)

type Handler struct {
	OrderService *order.OrderService
	PromoService *promo.Service
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, promoService *promo.Service, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		PromoService: promoService,
		Logger:       log,
	}
}

// PurchaseTickets places a ticket order for the authenticated user.
func (h *Handler) PurchaseTickets(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req order.TicketPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("PurchaseTickets: failed to decode request body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	result, err := h.OrderService.PurchaseTickets(r.Context(), userID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("PurchaseTickets: %v", err))
		h.writeServiceError(w, err)
		return
	}

	h.Logger.LogAPI("POST", "/orders/tickets", "201", result.Order.OrderNumber)
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Order placed", result))
}

// CreateShopOrder places a venue-shop order for the authenticated user.
func (h *Handler) CreateShopOrder(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req order.ShopOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateShopOrder: failed to decode request body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	result, err := h.OrderService.CreateShopOrder(r.Context(), userID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateShopOrder: %v", err))
		h.writeServiceError(w, err)
		return
	}

	h.Logger.LogAPI("POST", "/orders/shop", "201", result.Order.OrderNumber)
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Order placed", result))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	orderID := chi.URLParam(r, "orderId")

	owl, err := h.OrderService.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: %v", err))
		h.writeServiceError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order found", owl))
}

func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	orders, err := h.OrderService.GetUserOrders(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetMyOrders: %v", err))
		h.writeServiceError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Orders found", orders))
}

// ValidatePromo quotes a promo code against a hypothetical subtotal
// without consuming it.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		Code     string  `json:"code"`
		EventID  string  `json:"event_id,omitempty"`
		Subtotal float64 `json:"subtotal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.Code == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Promo code cannot be empty", ""))
		return
	}

	quote, err := h.PromoService.Validate(r.Context(), req.Code, userID, req.EventID, req.Subtotal)
	if err != nil {
		var promoErr *models.PromoError
		if errors.As(err, &promoErr) {
			utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse(promoErr.Message, string(promoErr.Reason)))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("ValidatePromo: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not validate promo code", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Promo code valid", quote))
}

// MarkReadyForPickup is the operator endpoint used by merchant staff
// once a shop order has been prepared.
func (h *Handler) MarkReadyForPickup(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	if err := h.OrderService.MarkReadyForPickup(r.Context(), orderID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("MarkReadyForPickup: %v", err))
		h.writeServiceError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order marked ready for pickup", nil))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var promoErr *models.PromoError
	var transitionErr *models.InvalidTransitionError

	switch {
	case errors.As(err, &promoErr):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse(promoErr.Message, string(promoErr.Reason)))
	case errors.As(err, &transitionErr):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Invalid order state for this operation", transitionErr.Error()))
	case errors.Is(err, models.ErrInsufficientInventory):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Not enough inventory available", err.Error()))
	case errors.Is(err, models.ErrLimitExceeded):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Per-order purchase limit exceeded", err.Error()))
	case errors.Is(err, models.ErrNotAvailable):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Requested item is not available", err.Error()))
	case errors.Is(err, models.ErrOrderNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal server error", err.Error()))
	}
}
