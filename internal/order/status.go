package order

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"pass-commerce/internal/models"
)

// Transition is the single choke point for order status changes. It
// rejects moves outside the adjacency table and performs the update
// conditionally on the expected current status, so two concurrent
// writers racing on the same order produce exactly one transition.
//
// The bool result reports whether this call performed the flip; false
// with a nil error means another writer got there first (the caller
// decides whether that is an idempotent success or a conflict).
func Transition(ctx context.Context, db bun.IDB, orderID string, from, to models.OrderStatus, sets map[string]interface{}) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, &models.InvalidTransitionError{From: from, To: to}
	}

	q := db.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", orderID).
		Where("status = ?", from)

	for col, val := range sets {
		q = q.Set(fmt.Sprintf("%s = ?", col), val)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("transition order %s %s->%s: %w", orderID, from, to, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
