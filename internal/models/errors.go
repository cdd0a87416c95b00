package models

import (
	"errors"
	"fmt"
	"time"
)

// Inventory and eligibility failures. All of these are caller errors,
// never infrastructure faults.
var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrLimitExceeded         = errors.New("quantity exceeds per-order limit")
	ErrNotAvailable          = errors.New("item not available for purchase")
)

// State machine failures.
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrTicketNotFound = errors.New("ticket not found")
)

// Payment integrity failures. Callbacks that trip these must never
// reach reconciliation.
var (
	ErrUntrustedCallback = errors.New("callback verification failed")
	ErrAmountMismatch    = errors.New("callback amount does not match order total")
)

// Redemption failures.
var (
	ErrAlreadyUsed = errors.New("already used")
	ErrNotReady    = errors.New("not ready for redemption")
)

// PromoReason identifies why a promo code was rejected. Every rejection
// carries a specific reason, never a generic "invalid".
type PromoReason string

const (
	PromoNotFound     PromoReason = "not_found"
	PromoInactive     PromoReason = "inactive"
	PromoNotStarted   PromoReason = "not_started"
	PromoExpired      PromoReason = "expired"
	PromoUsageCapped  PromoReason = "usage_capped"
	PromoUserCapped   PromoReason = "user_capped"
	PromoWrongEvent   PromoReason = "wrong_event"
	PromoBelowMinimum PromoReason = "below_minimum"
)

// PromoError is returned by the promotion engine with a user-facing
// message and a machine-readable reason.
type PromoError struct {
	Reason  PromoReason
	Message string
}

func (e *PromoError) Error() string {
	return e.Message
}

func NewPromoError(reason PromoReason, format string, args ...interface{}) *PromoError {
	return &PromoError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports an order status transition outside the
// adjacency table.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// ValidationResult is the shape returned to checkpoint operators when a
// QR token is presented. Summary fields are redacted for display; the
// raw token is never echoed back.
type ValidationResult struct {
	Valid         bool         `json:"valid"`
	Reason        string       `json:"reason,omitempty"`
	Message       string       `json:"message"`
	CurrentStatus string       `json:"current_status,omitempty"`
	UsedAt        *time.Time   `json:"used_at,omitempty"`
	Ticket        *TicketBrief `json:"ticket,omitempty"`
	Order         *OrderBrief  `json:"order,omitempty"`
}

// TicketBrief is the redacted ticket summary shown to a gate operator.
type TicketBrief struct {
	TicketID   string `json:"ticket_id"`
	EventTitle string `json:"event"`
	TicketType string `json:"ticket_type"`
	Attendee   string `json:"attendee"`
}

// OrderBrief is the redacted pickup summary shown at a counter.
type OrderBrief struct {
	OrderNumber    string      `json:"order_number"`
	Customer       string      `json:"customer"`
	PickupLocation string      `json:"pickup_location,omitempty"`
	Items          []ItemBrief `json:"items,omitempty"`
}

type ItemBrief struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}
