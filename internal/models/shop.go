package models

import (
	"time"

	"github.com/uptrace/bun"
)

type MerchantStatus string

const (
	MerchantActive    MerchantStatus = "ACTIVE"
	MerchantSuspended MerchantStatus = "SUSPENDED"
)

type Merchant struct {
	bun.BaseModel `bun:"table:merchants"`

	ID           string         `bun:"id,pk" json:"id"`
	BusinessName string         `bun:"business_name,notnull" json:"business_name"`
	TradeName    string         `bun:"trade_name" json:"trade_name"`
	Status       MerchantStatus `bun:"status,notnull" json:"status"`
	CreatedAt    time.Time      `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// ShopItem stock is the second shared-mutable counter. StockQuantity is
// nullable: items without it are gated by the InStock flag alone.
type ShopItem struct {
	bun.BaseModel `bun:"table:shop_items"`

	ID            string    `bun:"id,pk" json:"id"`
	MerchantID    string    `bun:"merchant_id,nullzero" json:"merchant_id,omitempty"`
	Name          string    `bun:"name,notnull" json:"name"`
	Description   string    `bun:"description" json:"description"`
	Price         float64   `bun:"price,notnull" json:"price"`
	Category      string    `bun:"category" json:"category"`
	InStock       bool      `bun:"in_stock,notnull,default:true" json:"in_stock"`
	StockQuantity *int      `bun:"stock_quantity" json:"stock_quantity,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type PickupLocation struct {
	bun.BaseModel `bun:"table:pickup_locations"`

	ID       string `bun:"id,pk" json:"id"`
	Name     string `bun:"name,notnull" json:"name"`
	Area     string `bun:"area" json:"area"`
	IsActive bool   `bun:"is_active,notnull,default:true" json:"is_active"`
}
