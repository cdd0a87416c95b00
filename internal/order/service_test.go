package order

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"pass-commerce/internal/config"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/order/db"
	"pass-commerce/internal/promo"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, m := range []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.TicketType)(nil),
		(*models.Merchant)(nil),
		(*models.ShopItem)(nil),
		(*models.PickupLocation)(nil),
		(*models.PromoCode)(nil),
		(*models.PromoCodeUsage)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.Ticket)(nil),
	} {
		require.NoError(t, bunDB.ResetModel(ctx, m))
	}

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func testConfig() config.CommerceConfig {
	return config.CommerceConfig{
		TicketFeeRate:  0.05,
		ShopFeeRate:    0,
		PendingTTL:     30 * time.Minute,
		ScanCooldown:   10 * time.Second,
		CheckinOpens:   24 * time.Hour,
		CheckinCloses:  12 * time.Hour,
		ReaperInterval: time.Minute,
	}
}

func newTestService(bunDB *bun.DB) *OrderService {
	log := &logger.Logger{}
	return NewOrderService(&db.DB{Bun: bunDB}, promo.NewService(bunDB, log), nil, testConfig(), log)
}

func seedTicketInventory(t *testing.T, bunDB *bun.DB, quantity int) *models.TicketType {
	t.Helper()
	ctx := context.Background()

	event := &models.Event{
		ID:     "event-1",
		Title:  "Addis Jazz Night",
		Status: models.EventPublished,
		Date:   time.Now().Add(48 * time.Hour),
	}
	_, err := bunDB.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)

	tt := &models.TicketType{
		ID:          "tt-regular",
		EventID:     event.ID,
		Name:        "Regular",
		Price:       1000,
		Quantity:    quantity,
		MaxPerOrder: 10,
	}
	_, err = bunDB.NewInsert().Model(tt).Exec(ctx)
	require.NoError(t, err)
	return tt
}

func seedShopInventory(t *testing.T, bunDB *bun.DB) (*models.ShopItem, *models.PickupLocation) {
	t.Helper()
	ctx := context.Background()

	merchant := &models.Merchant{ID: "m-1", BusinessName: "Venue Kiosk", Status: models.MerchantActive}
	_, err := bunDB.NewInsert().Model(merchant).Exec(ctx)
	require.NoError(t, err)

	stock := 10
	item := &models.ShopItem{
		ID:            "item-shirt",
		MerchantID:    merchant.ID,
		Name:          "Event T-Shirt",
		Price:         350,
		InStock:       true,
		StockQuantity: &stock,
	}
	_, err = bunDB.NewInsert().Model(item).Exec(ctx)
	require.NoError(t, err)

	loc := &models.PickupLocation{ID: "loc-1", Name: "Main Gate", IsActive: true}
	_, err = bunDB.NewInsert().Model(loc).Exec(ctx)
	require.NoError(t, err)

	return item, loc
}

func ticketTypeSold(t *testing.T, bunDB *bun.DB, id string) int {
	t.Helper()
	tt := new(models.TicketType)
	require.NoError(t, bunDB.NewSelect().Model(tt).Where("id = ?", id).Scan(context.Background()))
	return tt.Sold
}

func TestPurchaseTicketsHappyPath(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)

	result, err := svc.PurchaseTickets(context.Background(), "user-1", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2000.0, result.Order.Subtotal)
	assert.Equal(t, 100.0, result.Order.ServiceFee)
	assert.Equal(t, 2100.0, result.Order.Total)
	assert.Equal(t, models.OrderPending, result.Order.Status)
	assert.True(t, strings.HasPrefix(result.Order.OrderNumber, "PA"))
	assert.Empty(t, result.Order.QRCode)

	require.Len(t, result.Tickets, 2)
	for _, ticket := range result.Tickets {
		assert.Equal(t, models.TicketValid, ticket.Status)
		assert.True(t, strings.HasPrefix(ticket.QRCode, "PA-"))
		assert.Equal(t, 1000.0, ticket.PriceAtPurchase)
	}
	assert.NotEqual(t, result.Tickets[0].QRCode, result.Tickets[1].QRCode)
	assert.Equal(t, 2, ticketTypeSold(t, bunDB, tt.ID))
}

func TestPurchaseTicketsWithPromo(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)
	ctx := context.Background()

	_, err := bunDB.NewInsert().Model(&models.PromoCode{
		ID:             "promo-1",
		Code:           "JAZZ10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  10,
		MaxUsesPerUser: 1,
		IsActive:       true,
		EventID:        tt.EventID,
		ValidFrom:      time.Now().Add(-time.Hour),
		ValidUntil:     time.Now().Add(24 * time.Hour),
	}).Exec(ctx)
	require.NoError(t, err)

	result, err := svc.PurchaseTickets(ctx, "user-1", TicketPurchaseRequest{
		EventID:   tt.EventID,
		Tickets:   []TicketLine{{TicketTypeID: tt.ID, Quantity: 2}},
		PromoCode: "JAZZ10",
	})
	require.NoError(t, err)

	assert.Equal(t, 2000.0, result.Order.Subtotal)
	assert.Equal(t, 200.0, result.Order.Discount)
	assert.Equal(t, 90.0, result.Order.ServiceFee)
	assert.Equal(t, 1890.0, result.Order.Total)

	usages, err := bunDB.NewSelect().Model((*models.PromoCodeUsage)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, usages)
}

func TestPurchaseTicketsInsufficientInventoryRollsBack(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 3)
	svc := newTestService(bunDB)
	ctx := context.Background()

	_, err := svc.PurchaseTickets(ctx, "user-1", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	// The second request asks for more than remains; nothing it touched
	// may survive.
	_, err = svc.PurchaseTickets(ctx, "user-2", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	assert.ErrorIs(t, err, models.ErrInsufficientInventory)

	assert.Equal(t, 2, ticketTypeSold(t, bunDB, tt.ID))
	orders, err := bunDB.NewSelect().Model((*models.Order)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, orders)
	tickets, err := bunDB.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tickets)
}

func TestPurchaseTicketsWrongEventRejected(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)

	_, err := svc.PurchaseTickets(context.Background(), "user-1", TicketPurchaseRequest{
		EventID: "event-other",
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, models.ErrNotAvailable)
	assert.Equal(t, 0, ticketTypeSold(t, bunDB, tt.ID))
}

func TestPurchaseTicketsPromoFailureReleasesInventory(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)

	_, err := svc.PurchaseTickets(context.Background(), "user-1", TicketPurchaseRequest{
		EventID:   tt.EventID,
		Tickets:   []TicketLine{{TicketTypeID: tt.ID, Quantity: 2}},
		PromoCode: "NOSUCHCODE",
	})
	var promoErr *models.PromoError
	require.ErrorAs(t, err, &promoErr)
	assert.Equal(t, models.PromoNotFound, promoErr.Reason)

	assert.Equal(t, 0, ticketTypeSold(t, bunDB, tt.ID))
}

func TestCreateShopOrderHappyPath(t *testing.T) {
	bunDB := setupTestDB(t)
	item, loc := seedShopInventory(t, bunDB)
	svc := newTestService(bunDB)

	result, err := svc.CreateShopOrder(context.Background(), "user-1", ShopOrderRequest{
		Items:            []ShopLine{{ShopItemID: item.ID, Quantity: 2}},
		PickupLocationID: loc.ID,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Order.OrderNumber, "PS"))
	assert.True(t, strings.HasPrefix(result.Order.QRCode, "PS-"))
	assert.Equal(t, 700.0, result.Order.Subtotal)
	assert.Equal(t, 0.0, result.Order.ServiceFee)
	assert.Equal(t, 700.0, result.Order.Total)
	assert.Equal(t, item.MerchantID, result.Order.MerchantID)
	assert.Equal(t, loc.ID, result.Order.PickupLocationID)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 2, result.Items[0].Quantity)

	current := new(models.ShopItem)
	require.NoError(t, bunDB.NewSelect().Model(current).Where("id = ?", item.ID).Scan(context.Background()))
	require.NotNil(t, current.StockQuantity)
	assert.Equal(t, 8, *current.StockQuantity)
}

func TestCreateShopOrderRejectsMixedMerchants(t *testing.T) {
	bunDB := setupTestDB(t)
	item, loc := seedShopInventory(t, bunDB)
	svc := newTestService(bunDB)
	ctx := context.Background()

	other := &models.Merchant{ID: "m-2", BusinessName: "Second Stall", Status: models.MerchantActive}
	_, err := bunDB.NewInsert().Model(other).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewInsert().Model(&models.ShopItem{
		ID: "item-mug", MerchantID: other.ID, Name: "Mug", Price: 120, InStock: true,
	}).Exec(ctx)
	require.NoError(t, err)

	_, err = svc.CreateShopOrder(ctx, "user-1", ShopOrderRequest{
		Items: []ShopLine{
			{ShopItemID: item.ID, Quantity: 1},
			{ShopItemID: "item-mug", Quantity: 1},
		},
		PickupLocationID: loc.ID,
	})
	assert.ErrorIs(t, err, models.ErrNotAvailable)

	// The first line's reservation must not leak.
	current := new(models.ShopItem)
	require.NoError(t, bunDB.NewSelect().Model(current).Where("id = ?", item.ID).Scan(ctx))
	assert.Equal(t, 10, *current.StockQuantity)
}

func TestCreateShopOrderInactivePickupLocation(t *testing.T) {
	bunDB := setupTestDB(t)
	item, loc := seedShopInventory(t, bunDB)
	svc := newTestService(bunDB)
	ctx := context.Background()

	_, err := bunDB.NewUpdate().
		Model((*models.PickupLocation)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", loc.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = svc.CreateShopOrder(ctx, "user-1", ShopOrderRequest{
		Items:            []ShopLine{{ShopItemID: item.ID, Quantity: 1}},
		PickupLocationID: loc.ID,
	})
	assert.ErrorIs(t, err, models.ErrNotAvailable)
}

func TestGetOrderScopedToOwner(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)
	ctx := context.Background()

	result, err := svc.PurchaseTickets(ctx, "user-1", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	owl, err := svc.GetOrder(ctx, "user-1", result.Order.ID)
	require.NoError(t, err)
	assert.Len(t, owl.Tickets, 1)

	// Another user sees the same 404 as a missing order.
	_, err = svc.GetOrder(ctx, "user-2", result.Order.ID)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestCancelAndReleaseRestoresInventory(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)
	ctx := context.Background()

	result, err := svc.PurchaseTickets(ctx, "user-1", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, 3, ticketTypeSold(t, bunDB, tt.ID))

	cancelled, err := svc.CancelAndRelease(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	assert.Equal(t, 0, ticketTypeSold(t, bunDB, tt.ID))

	order, err := svc.DB.GetOrderByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, order.Status)

	tickets, err := svc.DB.GetTicketsByOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketCancelled, ticket.Status)
	}

	// A second cancel finds nothing to do.
	cancelled, err = svc.CancelAndRelease(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, 0, ticketTypeSold(t, bunDB, tt.ID))
}

func TestCancelAndReleaseSkipsSettledOrder(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)
	ctx := context.Background()

	result, err := svc.PurchaseTickets(ctx, "user-1", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	flipped, err := Transition(ctx, bunDB, result.Order.ID, models.OrderPending, models.OrderPaid, nil)
	require.NoError(t, err)
	require.True(t, flipped)

	cancelled, err := svc.CancelAndRelease(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	// Paid inventory stays held.
	assert.Equal(t, 2, ticketTypeSold(t, bunDB, tt.ID))
}

func TestMarkReadyForPickup(t *testing.T) {
	bunDB := setupTestDB(t)
	item, loc := seedShopInventory(t, bunDB)
	svc := newTestService(bunDB)
	ctx := context.Background()

	result, err := svc.CreateShopOrder(ctx, "user-1", ShopOrderRequest{
		Items:            []ShopLine{{ShopItemID: item.ID, Quantity: 1}},
		PickupLocationID: loc.ID,
	})
	require.NoError(t, err)

	// Still unpaid: the move is out of order.
	err = svc.MarkReadyForPickup(ctx, result.Order.ID)
	var transitionErr *models.InvalidTransitionError
	assert.ErrorAs(t, err, &transitionErr)

	flipped, err := Transition(ctx, bunDB, result.Order.ID, models.OrderPending, models.OrderPaid, nil)
	require.NoError(t, err)
	require.True(t, flipped)

	require.NoError(t, svc.MarkReadyForPickup(ctx, result.Order.ID))

	order, err := svc.DB.GetOrderByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderReadyForPickup, order.Status)
}

func TestReapExpiredCancelsStalePendingOrders(t *testing.T) {
	bunDB := setupTestDB(t)
	tt := seedTicketInventory(t, bunDB, 10)
	svc := newTestService(bunDB)
	ctx := context.Background()

	stale, err := svc.PurchaseTickets(ctx, "user-1", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	fresh, err := svc.PurchaseTickets(ctx, "user-2", TicketPurchaseRequest{
		EventID: tt.EventID,
		Tickets: []TicketLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = bunDB.NewUpdate().
		Model((*models.Order)(nil)).
		Set("created_at = ?", time.Now().Add(-time.Hour)).
		Where("id = ?", stale.Order.ID).
		Exec(ctx)
	require.NoError(t, err)

	svc.reapExpired(ctx)

	staleOrder, err := svc.DB.GetOrderByID(ctx, stale.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, staleOrder.Status)

	freshOrder, err := svc.DB.GetOrderByID(ctx, fresh.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, freshOrder.Status)

	assert.Equal(t, 1, ticketTypeSold(t, bunDB, tt.ID))
}
