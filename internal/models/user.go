package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is reference data resolved from upstream auth; the commerce core
// only reads it for buyer contact details and redemption summaries.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name" json:"name"`
	Phone     string    `bun:"phone" json:"phone"`
	Email     string    `bun:"email,nullzero" json:"email,omitempty"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// DisplayName prefers the name, falling back to the phone number the
// way checkpoint screens show attendees.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Phone
}
