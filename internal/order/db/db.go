package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"pass-commerce/internal/models"
)

// DB is the order repository over bun. Mutations that must be atomic
// with inventory movements run inside RunInTx.
type DB struct {
	Bun *bun.DB
}

// RunInTx executes fn inside one database transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderByQRCode(ctx context.Context, qrCode string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("qr_code = ?", qrCode).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("created_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s not found", id)
		}
		return nil, err
	}
	return &user, nil
}

func (d *DB) GetPickupLocation(ctx context.Context, id string) (*models.PickupLocation, error) {
	var loc models.PickupLocation
	err := d.Bun.NewSelect().
		Model(&loc).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pickup location %s: %w", id, models.ErrNotAvailable)
		}
		return nil, err
	}
	return &loc, nil
}

// GetOrdersWithLinesByUser returns a user's orders newest first, each
// with its tickets and shop lines attached.
func (d *DB) GetOrdersWithLinesByUser(ctx context.Context, userID string) ([]models.OrderWithLines, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []models.OrderWithLines{}, nil
	}

	orderIDs := make([]string, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.ID
	}

	var tickets []models.Ticket
	err = d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	err = d.Bun.NewSelect().
		Model(&items).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	ticketsByOrder := make(map[string][]models.Ticket)
	for _, t := range tickets {
		ticketsByOrder[t.OrderID] = append(ticketsByOrder[t.OrderID], t)
	}
	itemsByOrder := make(map[string][]models.OrderItem)
	for _, it := range items {
		itemsByOrder[it.OrderID] = append(itemsByOrder[it.OrderID], it)
	}

	result := make([]models.OrderWithLines, len(orders))
	for i, o := range orders {
		result[i] = models.OrderWithLines{
			Order:   o,
			Tickets: ticketsByOrder[o.ID],
			Items:   itemsByOrder[o.ID],
		}
	}
	return result, nil
}

// GetExpiredPending returns IDs of orders stuck in PENDING longer than
// the TTL, oldest first, for the reaper.
func (d *DB) GetExpiredPending(ctx context.Context, ttl time.Duration, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Column("id").
		Model((*models.Order)(nil)).
		Where("status = ?", models.OrderPending).
		Where("created_at < ?", time.Now().Add(-ttl)).
		Order("created_at").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
