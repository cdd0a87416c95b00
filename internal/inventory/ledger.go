package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"pass-commerce/internal/models"
)

// Ledger performs atomic reservations against ticket-type and shop-item
// stock. The check-and-increment is a single conditional UPDATE against
// the store, never a read-then-write pair, so two concurrent buyers can
// never both take the last unit. Construct it over a bun transaction to
// make a reservation part of a larger unit of work.
type Ledger struct {
	db bun.IDB
}

func New(db bun.IDB) *Ledger {
	return &Ledger{db: db}
}

// ReserveTicketType holds qty units of the ticket type and returns the
// row as it was read, with the unit price to snapshot onto the line.
func (l *Ledger) ReserveTicketType(ctx context.Context, ticketTypeID string, qty int) (*models.TicketType, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrNotAvailable)
	}

	var tt models.TicketType
	err := l.db.NewSelect().
		Model(&tt).
		Where("id = ?", ticketTypeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket type %s: %w", ticketTypeID, models.ErrNotAvailable)
		}
		return nil, fmt.Errorf("fetch ticket type: %w", err)
	}

	var event models.Event
	err = l.db.NewSelect().
		Model(&event).
		Where("id = ?", tt.EventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch event: %w", err)
	}

	if event.Status != models.EventPublished {
		return nil, fmt.Errorf("event %s is not published: %w", event.ID, models.ErrNotAvailable)
	}
	if event.Date.Before(time.Now()) {
		return nil, fmt.Errorf("event %s has already passed: %w", event.ID, models.ErrNotAvailable)
	}
	if qty > tt.MaxPerOrder {
		return nil, fmt.Errorf("maximum %d per order for %s: %w", tt.MaxPerOrder, tt.Name, models.ErrLimitExceeded)
	}

	res, err := l.db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold = sold + ?", qty).
		Where("id = ?", ticketTypeID).
		Where("sold + ? <= quantity", qty).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve ticket type: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("only %d left for %s: %w", tt.Available(), tt.Name, models.ErrInsufficientInventory)
	}

	return &tt, nil
}

// ReleaseTicketType returns qty units, used when a payment fails or a
// pending order expires. Floored at zero by the guard clause.
func (l *Ledger) ReleaseTicketType(ctx context.Context, ticketTypeID string, qty int) error {
	_, err := l.db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold = sold - ?", qty).
		Where("id = ?", ticketTypeID).
		Where("sold >= ?", qty).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release ticket type: %w", err)
	}
	return nil
}

// ReserveShopItem holds qty units of a shop item. Items without a
// tracked stock quantity are gated by the in_stock flag alone.
func (l *Ledger) ReserveShopItem(ctx context.Context, shopItemID string, qty int) (*models.ShopItem, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrNotAvailable)
	}

	var item models.ShopItem
	err := l.db.NewSelect().
		Model(&item).
		Where("id = ?", shopItemID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", shopItemID, models.ErrNotAvailable)
		}
		return nil, fmt.Errorf("fetch shop item: %w", err)
	}

	if !item.InStock {
		return nil, fmt.Errorf("%s is out of stock: %w", item.Name, models.ErrNotAvailable)
	}

	if item.MerchantID != "" {
		var merchant models.Merchant
		err = l.db.NewSelect().
			Model(&merchant).
			Where("id = ?", item.MerchantID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch merchant: %w", err)
		}
		if merchant.Status != models.MerchantActive {
			return nil, fmt.Errorf("%s is not currently available: %w", item.Name, models.ErrNotAvailable)
		}
	}

	if item.StockQuantity != nil {
		res, err := l.db.NewUpdate().
			Model((*models.ShopItem)(nil)).
			Set("stock_quantity = stock_quantity - ?", qty).
			Where("id = ?", shopItemID).
			Where("stock_quantity >= ?", qty).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("reserve shop item: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil, fmt.Errorf("only %d left of %s: %w", *item.StockQuantity, item.Name, models.ErrInsufficientInventory)
		}

		// Flip the flag once the tracked stock is exhausted.
		_, err = l.db.NewUpdate().
			Model((*models.ShopItem)(nil)).
			Set("in_stock = ?", false).
			Where("id = ?", shopItemID).
			Where("stock_quantity <= 0").
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("update stock flag: %w", err)
		}
	}

	return &item, nil
}

// ReleaseShopItem restores qty units of tracked stock.
func (l *Ledger) ReleaseShopItem(ctx context.Context, shopItemID string, qty int) error {
	_, err := l.db.NewUpdate().
		Model((*models.ShopItem)(nil)).
		Set("stock_quantity = stock_quantity + ?", qty).
		Set("in_stock = ?", true).
		Where("id = ?", shopItemID).
		Where("stock_quantity IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release shop item: %w", err)
	}
	return nil
}
