package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "VALID"
	TicketUsed      TicketStatus = "USED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketExpired   TicketStatus = "EXPIRED"
)

// Ticket is one purchased seat/slot. The QR code is generated at
// creation and immutable; status moves VALID -> USED exactly once via
// the redemption test-and-set. A ticket survives independently of later
// changes to its order row.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID              string       `bun:"id,pk" json:"id"`
	QRCode          string       `bun:"qr_code,notnull,unique" json:"qr_code"`
	UserID          string       `bun:"user_id,notnull" json:"user_id"`
	EventID         string       `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID    string       `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	OrderID         string       `bun:"order_id,nullzero" json:"order_id,omitempty"`
	Status          TicketStatus `bun:"status,notnull" json:"status"`
	PriceAtPurchase float64      `bun:"price_at_purchase,notnull" json:"price_at_purchase"`
	UsedAt          *time.Time   `bun:"used_at" json:"used_at,omitempty"`
	CreatedAt       time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
