package redemption_api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/uptrace/bun"

	"pass-commerce/internal/auth"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/redemption"
	"pass-commerce/internal/redemption/qr"
	"pass-commerce/internal/utils"
)

type Handler struct {
	RedemptionService *redemption.Service
	Bun               *bun.DB
	Logger            *logger.Logger
}

func NewHandler(svc *redemption.Service, b *bun.DB, log *logger.Logger) *Handler {
	return &Handler{
		RedemptionService: svc,
		Bun:               b,
		Logger:            log,
	}
}

// Redeem is the operator scan endpoint. The response is always 200
// with a ValidationResult; a rejected code is a normal outcome, not an
// HTTP error.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRToken string `json:"qr_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	result, err := h.RedemptionService.Redeem(r.Context(), req.QRToken)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Redeem: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not validate code", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Scan processed", result))
}

// TicketQR returns the QR image for one of the caller's own tickets.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	ticketID := chi.URLParam(r, "ticketId")

	ticket := new(models.Ticket)
	err := h.Bun.NewSelect().Model(ticket).Where("id = ?", ticketID).Scan(r.Context())
	if errors.Is(err, sql.ErrNoRows) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ""))
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketQR: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not fetch ticket", err.Error()))
		return
	}
	if ticket.UserID != userID {
		// Same response as a missing ticket.
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ""))
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	dataURL, err := qr.DataURL(ticket.QRCode, size)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketQR: encode: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not render QR code", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket QR", map[string]string{
		"ticket_id": ticket.ID,
		"image":     dataURL,
	}))
}
