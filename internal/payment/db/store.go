package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"pass-commerce/internal/models"
)

// Store persists payment records keyed one-per-order.
type Store struct {
	Bun *bun.DB
}

func NewStore(b *bun.DB) *Store {
	return &Store{Bun: b}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.Bun.RunInTx(ctx, &sql.TxOptions{}, fn)
}

// Upsert records an initiation attempt. Re-initiating an order keeps
// its single payment row, refreshing method, ref and amount.
func (s *Store) Upsert(ctx context.Context, orderID string, amount float64, method models.PaymentMethod, providerRef string) (*models.Payment, error) {
	payment := &models.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Amount:      amount,
		Method:      method,
		Status:      models.PaymentProcessing,
		ProviderRef: providerRef,
		CreatedAt:   time.Now(),
	}

	_, err := s.Bun.NewInsert().
		Model(payment).
		On("CONFLICT (order_id) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Set("method = EXCLUDED.method").
		Set("provider_ref = EXCLUDED.provider_ref").
		Set("status = EXCLUDED.status").
		Set("updated_at = ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetByOrderID(ctx, orderID)
}

func (s *Store) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.Bun.NewSelect().Model(payment).Where("order_id = ?", orderID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Store) GetByProviderRef(ctx context.Context, providerRef string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.Bun.NewSelect().Model(payment).Where("provider_ref = ?", providerRef).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// SetOutcome records the provider's final word plus the raw payload
// for audit.
func (s *Store) SetOutcome(ctx context.Context, db bun.IDB, paymentID string, status models.PaymentStatus, raw []byte) error {
	_, err := db.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", status).
		Set("provider_data = ?", raw).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", paymentID).
		Exec(ctx)
	return err
}
