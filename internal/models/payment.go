package models

import (
	"time"

	"github.com/uptrace/bun"
)

// PaymentMethod selects the provider adapter. Reconciliation never
// branches on provider identity beyond this tag.
type PaymentMethod string

const (
	MethodChapa    PaymentMethod = "CHAPA"
	MethodTelebirr PaymentMethod = "TELEBIRR"
	MethodCBEBirr  PaymentMethod = "CBE_BIRR"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
)

// Payment is the per-order payment record. ProviderRef is the tx_ref /
// outTradeNo / referenceId handed to the provider at initiation and is
// the key callbacks are matched on.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID           string        `bun:"id,pk" json:"id"`
	OrderID      string        `bun:"order_id,notnull,unique" json:"order_id"`
	Amount       float64       `bun:"amount,notnull" json:"amount"`
	Method       PaymentMethod `bun:"method,notnull" json:"method"`
	Status       PaymentStatus `bun:"status,notnull" json:"status"`
	ProviderRef  string        `bun:"provider_ref,nullzero" json:"provider_ref,omitempty"`
	ProviderData []byte        `bun:"provider_data,type:jsonb,nullzero" json:"-"`
	CreatedAt    time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time     `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}
