package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderPaid           OrderStatus = "PAID"
	OrderReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderRefunded       OrderStatus = "REFUNDED"
)

// orderTransitions is the single source of truth for legal status moves.
// Anything outside it fails with InvalidTransitionError at the choke
// point; call sites never compare status strings themselves.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:        {OrderPaid, OrderCancelled},
	OrderPaid:           {OrderReadyForPickup, OrderCompleted, OrderRefunded},
	OrderReadyForPickup: {OrderCompleted},
}

// CanTransition reports whether from -> to is in the adjacency table.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is the root aggregate of a purchase. It is created by the
// purchase flow, mutated only by reconciliation (PENDING -> PAID /
// CANCELLED) and redemption (PAID/READY_FOR_PICKUP -> COMPLETED), and
// never deleted.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID               string      `bun:"id,pk" json:"id"`
	OrderNumber      string      `bun:"order_number,notnull,unique" json:"order_number"`
	UserID           string      `bun:"user_id,notnull" json:"user_id"`
	MerchantID       string      `bun:"merchant_id,nullzero" json:"merchant_id,omitempty"`
	PickupLocationID string      `bun:"pickup_location_id,nullzero" json:"pickup_location_id,omitempty"`
	Subtotal         float64     `bun:"subtotal,notnull" json:"subtotal"`
	Discount         float64     `bun:"discount,notnull,default:0" json:"discount"`
	ServiceFee       float64     `bun:"service_fee,notnull" json:"service_fee"`
	Total            float64     `bun:"total,notnull" json:"total"`
	Status           OrderStatus `bun:"status,notnull" json:"status"`
	QRCode           string      `bun:"qr_code,nullzero,unique" json:"qr_code,omitempty"`
	PaymentMethod    string      `bun:"payment_method,nullzero" json:"payment_method,omitempty"`
	PaymentRef       string      `bun:"payment_ref,nullzero" json:"payment_ref,omitempty"`
	PaidAt           *time.Time  `bun:"paid_at" json:"paid_at,omitempty"`
	PickedUpAt       *time.Time  `bun:"picked_up_at" json:"picked_up_at,omitempty"`
	CreatedAt        time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time   `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// OrderItem is one shop line on an order. Price and subtotal are
// snapshotted at reservation time; later catalogue changes never touch
// settled orders.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID         string  `bun:"id,pk" json:"id"`
	OrderID    string  `bun:"order_id,notnull" json:"order_id"`
	ShopItemID string  `bun:"shop_item_id,notnull" json:"shop_item_id"`
	Quantity   int     `bun:"quantity,notnull" json:"quantity"`
	Price      float64 `bun:"price,notnull" json:"price"`
	Subtotal   float64 `bun:"subtotal,notnull" json:"subtotal"`
}

// OrderWithLines bundles an order with its tickets or shop lines for
// API responses and event payloads.
type OrderWithLines struct {
	Order   Order       `json:"order"`
	Tickets []Ticket    `json:"tickets,omitempty"`
	Items   []OrderItem `json:"items,omitempty"`
}
