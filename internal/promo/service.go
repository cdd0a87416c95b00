package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/utils"
)

// Service validates and applies promo codes. Validate is a pure read;
// Apply records usage transactionally and is idempotent per order via
// the unique (promo_code_id, order_id) pair.
type Service struct {
	db     bun.IDB
	logger *logger.Logger
}

func NewService(db bun.IDB, log *logger.Logger) *Service {
	return &Service{db: db, logger: log}
}

// WithTx returns a view of the service bound to the given transaction.
func (s *Service) WithTx(tx bun.Tx) *Service {
	return &Service{db: tx, logger: s.logger}
}

func (s *Service) fetchByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var pc models.PromoCode
	err := s.db.NewSelect().
		Model(&pc).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewPromoError(models.PromoNotFound, "Invalid promo code")
		}
		return nil, fmt.Errorf("fetch promo code: %w", err)
	}
	return &pc, nil
}

// Validate checks a code against a subtotal without side effects. Every
// rejection carries a specific reason.
func (s *Service) Validate(ctx context.Context, code, userID, eventID string, subtotal float64) (*models.PromoQuote, error) {
	pc, err := s.fetchByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if !pc.IsActive {
		return nil, models.NewPromoError(models.PromoInactive, "This promo code is no longer active")
	}

	now := time.Now()
	if now.Before(pc.ValidFrom) {
		return nil, models.NewPromoError(models.PromoNotStarted, "This promo code is not yet valid")
	}
	if now.After(pc.ValidUntil) {
		return nil, models.NewPromoError(models.PromoExpired, "This promo code has expired")
	}

	if pc.MaxUses > 0 && pc.UsedCount >= pc.MaxUses {
		return nil, models.NewPromoError(models.PromoUsageCapped, "This promo code has reached its usage limit")
	}

	userUses, err := s.db.NewSelect().
		Model((*models.PromoCodeUsage)(nil)).
		Where("promo_code_id = ?", pc.ID).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count promo usage: %w", err)
	}
	if pc.MaxUsesPerUser > 0 && userUses >= pc.MaxUsesPerUser {
		return nil, models.NewPromoError(models.PromoUserCapped, "You have already used this promo code")
	}

	if pc.EventID != "" && pc.EventID != eventID {
		return nil, models.NewPromoError(models.PromoWrongEvent, "This promo code is not valid for this event")
	}

	if pc.MinPurchase > 0 && subtotal < pc.MinPurchase {
		return nil, models.NewPromoError(models.PromoBelowMinimum, "Minimum purchase of ETB %.2f required", pc.MinPurchase)
	}

	discount := computeDiscount(pc, subtotal)
	return &models.PromoQuote{
		Code:          pc.Code,
		DiscountType:  pc.DiscountType,
		DiscountValue: pc.DiscountValue,
		Discount:      discount,
		NewTotal:      utils.RoundMoney(subtotal - discount),
	}, nil
}

// Apply re-runs Validate (a client-supplied discount figure is never
// trusted), inserts one usage row and bumps used_count. Calling it
// twice for the same order is a no-op after the first.
func (s *Service) Apply(ctx context.Context, code, userID, orderID string, subtotal float64) (*models.PromoQuote, error) {
	quote, err := s.Validate(ctx, code, userID, "", subtotal)
	if err != nil {
		return nil, err
	}
	return s.applyQuote(ctx, quote, userID, orderID)
}

// ApplyForEvent is Apply with the event-scoping check included.
func (s *Service) ApplyForEvent(ctx context.Context, code, userID, eventID, orderID string, subtotal float64) (*models.PromoQuote, error) {
	quote, err := s.Validate(ctx, code, userID, eventID, subtotal)
	if err != nil {
		return nil, err
	}
	return s.applyQuote(ctx, quote, userID, orderID)
}

func (s *Service) applyQuote(ctx context.Context, quote *models.PromoQuote, userID, orderID string) (*models.PromoQuote, error) {
	pc, err := s.fetchByCode(ctx, quote.Code)
	if err != nil {
		return nil, err
	}

	usage := &models.PromoCodeUsage{
		ID:          uuid.NewString(),
		PromoCodeID: pc.ID,
		OrderID:     orderID,
		UserID:      userID,
		Discount:    quote.Discount,
		UsedAt:      time.Now(),
	}

	res, err := s.db.NewInsert().
		Model(usage).
		On("CONFLICT (promo_code_id, order_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("record promo usage: %w", err)
	}
	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		// Usage already recorded for this order; do not double-count.
		s.logger.Warn("PROMO", fmt.Sprintf("promo %s already applied to order %s", pc.Code, orderID))
		return quote, nil
	}

	upd, err := s.db.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("used_count = used_count + 1").
		Where("id = ?", pc.ID).
		Where("max_uses = 0 OR used_count < max_uses").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("increment promo usage: %w", err)
	}
	if affected, _ := upd.RowsAffected(); affected == 0 {
		// Cap was hit between validate and apply.
		return nil, models.NewPromoError(models.PromoUsageCapped, "This promo code has reached its usage limit")
	}

	s.logger.Info("PROMO", fmt.Sprintf("promo %s applied to order %s (discount %.2f)", pc.Code, orderID, quote.Discount))
	return quote, nil
}

func computeDiscount(pc *models.PromoCode, subtotal float64) float64 {
	var discount float64
	switch pc.DiscountType {
	case models.DiscountPercentage:
		discount = subtotal * pc.DiscountValue / 100
		if pc.MaxDiscount > 0 && discount > pc.MaxDiscount {
			discount = pc.MaxDiscount
		}
	case models.DiscountFixed:
		discount = pc.DiscountValue
		if discount > subtotal {
			discount = subtotal
		}
	}
	return utils.RoundMoney(discount)
}
