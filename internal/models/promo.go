package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	ID             string       `bun:"id,pk" json:"id"`
	Code           string       `bun:"code,notnull,unique" json:"code"`
	Description    string       `bun:"description" json:"description"`
	DiscountType   DiscountType `bun:"discount_type,notnull" json:"discount_type"`
	DiscountValue  float64      `bun:"discount_value,notnull" json:"discount_value"`
	MinPurchase    float64      `bun:"min_purchase,notnull,default:0" json:"min_purchase"`
	MaxDiscount    float64      `bun:"max_discount,notnull,default:0" json:"max_discount"`
	MaxUses        int          `bun:"max_uses,notnull,default:0" json:"max_uses"`
	MaxUsesPerUser int          `bun:"max_uses_per_user,notnull,default:1" json:"max_uses_per_user"`
	UsedCount      int          `bun:"used_count,notnull,default:0" json:"used_count"`
	ValidFrom      time.Time    `bun:"valid_from,notnull" json:"valid_from"`
	ValidUntil     time.Time    `bun:"valid_until,notnull" json:"valid_until"`
	EventID        string       `bun:"event_id,nullzero" json:"event_id,omitempty"`
	IsActive       bool         `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt      time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// PromoCodeUsage is append-only. The unique (promo_code_id, order_id)
// pair makes Apply idempotent per order.
type PromoCodeUsage struct {
	bun.BaseModel `bun:"table:promo_code_usages"`

	ID          string    `bun:"id,pk" json:"id"`
	PromoCodeID string    `bun:"promo_code_id,notnull,unique:promo_order" json:"promo_code_id"`
	OrderID     string    `bun:"order_id,notnull,unique:promo_order" json:"order_id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	Discount    float64   `bun:"discount,notnull" json:"discount"`
	UsedAt      time.Time `bun:"used_at,notnull,default:current_timestamp" json:"used_at"`
}

// PromoQuote is the read-side result of validating a code against a
// subtotal.
type PromoQuote struct {
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue float64      `json:"discount_value"`
	Discount      float64      `json:"calculated_discount"`
	NewTotal      float64      `json:"new_total"`
}
