package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pass-commerce/internal/models"
)

func TestCanTransitionTable(t *testing.T) {
	allowed := []struct{ from, to models.OrderStatus }{
		{models.OrderPending, models.OrderPaid},
		{models.OrderPending, models.OrderCancelled},
		{models.OrderPaid, models.OrderReadyForPickup},
		{models.OrderPaid, models.OrderCompleted},
		{models.OrderPaid, models.OrderRefunded},
		{models.OrderReadyForPickup, models.OrderCompleted},
	}
	for _, tc := range allowed {
		assert.True(t, models.CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to models.OrderStatus }{
		{models.OrderPending, models.OrderCompleted},
		{models.OrderPending, models.OrderReadyForPickup},
		{models.OrderCancelled, models.OrderPaid},
		{models.OrderCompleted, models.OrderPaid},
		{models.OrderRefunded, models.OrderPending},
		{models.OrderPaid, models.OrderPending},
	}
	for _, tc := range denied {
		assert.False(t, models.CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	bunDB := setupTestDB(t)
	ctx := context.Background()

	_, err := bunDB.NewInsert().Model(&models.Order{
		ID:          "order-1",
		OrderNumber: "PA100",
		UserID:      "user-1",
		Status:      models.OrderPending,
		CreatedAt:   time.Now(),
	}).Exec(ctx)
	require.NoError(t, err)

	_, err = Transition(ctx, bunDB, "order-1", models.OrderPending, models.OrderCompleted, nil)
	var transitionErr *models.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.OrderPending, transitionErr.From)
	assert.Equal(t, models.OrderCompleted, transitionErr.To)
}

func TestTransitionFlipsExactlyOnce(t *testing.T) {
	bunDB := setupTestDB(t)
	ctx := context.Background()

	_, err := bunDB.NewInsert().Model(&models.Order{
		ID:          "order-1",
		OrderNumber: "PA101",
		UserID:      "user-1",
		Status:      models.OrderPending,
		CreatedAt:   time.Now(),
	}).Exec(ctx)
	require.NoError(t, err)

	flipped, err := Transition(ctx, bunDB, "order-1", models.OrderPending, models.OrderPaid, nil)
	require.NoError(t, err)
	assert.True(t, flipped)

	// A second writer expecting PENDING loses the race cleanly.
	flipped, err = Transition(ctx, bunDB, "order-1", models.OrderPending, models.OrderCancelled, nil)
	require.NoError(t, err)
	assert.False(t, flipped)

	order := new(models.Order)
	require.NoError(t, bunDB.NewSelect().Model(order).Where("id = ?", "order-1").Scan(ctx))
	assert.Equal(t, models.OrderPaid, order.Status)
}

func TestTransitionAppliesExtraColumns(t *testing.T) {
	bunDB := setupTestDB(t)
	ctx := context.Background()

	_, err := bunDB.NewInsert().Model(&models.Order{
		ID:          "order-1",
		OrderNumber: "PA102",
		UserID:      "user-1",
		Status:      models.OrderPending,
		CreatedAt:   time.Now(),
	}).Exec(ctx)
	require.NoError(t, err)

	paidAt := time.Now()
	flipped, err := Transition(ctx, bunDB, "order-1", models.OrderPending, models.OrderPaid, map[string]interface{}{
		"payment_method": "CHAPA",
		"payment_ref":    "PA102",
		"paid_at":        paidAt,
	})
	require.NoError(t, err)
	require.True(t, flipped)

	order := new(models.Order)
	require.NoError(t, bunDB.NewSelect().Model(order).Where("id = ?", "order-1").Scan(ctx))
	assert.Equal(t, "CHAPA", order.PaymentMethod)
	assert.Equal(t, "PA102", order.PaymentRef)
	require.NotNil(t, order.PaidAt)
}
