package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string      `bun:"id,pk" json:"id"`
	Title       string      `bun:"title,notnull" json:"title"`
	Venue       string      `bun:"venue" json:"venue"`
	Date        time.Time   `bun:"date,notnull" json:"date"`
	Status      EventStatus `bun:"status,notnull" json:"status"`
	OrganizerID string      `bun:"organizer_id" json:"organizer_id"`
	CreatedAt   time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// TicketType carries the shared-mutable sold counter. Every writer goes
// through the inventory ledger's conditional update; sold only moves
// through Reserve and Release.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID          string    `bun:"id,pk" json:"id"`
	EventID     string    `bun:"event_id,notnull" json:"event_id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Price       float64   `bun:"price,notnull" json:"price"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	Sold        int       `bun:"sold,notnull,default:0" json:"sold"`
	MaxPerOrder int       `bun:"max_per_order,notnull,default:10" json:"max_per_order"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Available returns the units still purchasable. Advisory only: the
// authoritative check happens inside the reservation update.
func (t *TicketType) Available() int {
	return t.Quantity - t.Sold
}
