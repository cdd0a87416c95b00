package payment

import (
	"context"
	"database/sql"
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
	"pass-commerce/internal/order"
	orderdb "pass-commerce/internal/order/db"
	paymentdb "pass-commerce/internal/payment/db"
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
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.Ticket)(nil),
		(*models.Payment)(nil),
		(*models.PromoCode)(nil),
		(*models.PromoCodeUsage)(nil),
	} {
		require.NoError(t, bunDB.ResetModel(ctx, m))
	}

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

type mockPublisher struct {
	paid      int
	cancelled int
}

func (m *mockPublisher) PublishOrderPaid(models.Order) error      { m.paid++; return nil }
func (m *mockPublisher) PublishOrderCancelled(models.Order) error { m.cancelled++; return nil }

type reconcileFixture struct {
	bunDB      *bun.DB
	reconciler *Reconciler
	orders     *order.OrderService
	store      *paymentdb.Store
	kafka      *mockPublisher
	order      models.Order
	ticketType string
}

// newReconcileFixture seeds one paid-for order in PENDING with a
// payment row keyed by its order number.
func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	bunDB := setupTestDB(t)
	ctx := context.Background()
	log := &logger.Logger{}

	for _, m := range []interface{}{
		&models.User{ID: "user-1", Name: "Abel Tesfaye", Phone: "+251911000000"},
		&models.Event{ID: "event-1", Title: "Addis Jazz Night", Status: models.EventPublished, Date: time.Now().Add(48 * time.Hour)},
		&models.TicketType{ID: "tt-1", EventID: "event-1", Name: "Regular", Price: 1000, Quantity: 10, MaxPerOrder: 10},
	} {
		_, err := bunDB.NewInsert().Model(m).Exec(ctx)
		require.NoError(t, err)
	}

	orderDB := &orderdb.DB{Bun: bunDB}
	orderSvc := order.NewOrderService(orderDB, promo.NewService(bunDB, log), nil, config.CommerceConfig{TicketFeeRate: 0.05}, log)

	result, err := orderSvc.PurchaseTickets(ctx, "user-1", order.TicketPurchaseRequest{
		EventID: "event-1",
		Tickets: []order.TicketLine{{TicketTypeID: "tt-1", Quantity: 2}},
	})
	require.NoError(t, err)

	store := paymentdb.NewStore(bunDB)
	_, err = store.Upsert(ctx, result.Order.ID, result.Order.Total, models.MethodChapa, result.Order.OrderNumber)
	require.NoError(t, err)

	kafka := &mockPublisher{}
	reconciler := NewReconciler(store, orderDB, orderSvc, kafka, nil, nil, log)

	return &reconcileFixture{
		bunDB:      bunDB,
		reconciler: reconciler,
		orders:     orderSvc,
		store:      store,
		kafka:      kafka,
		order:      result.Order,
		ticketType: "tt-1",
	}
}

func (f *reconcileFixture) orderStatus(t *testing.T) models.OrderStatus {
	t.Helper()
	ord, err := f.orders.DB.GetOrderByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	return ord.Status
}

func (f *reconcileFixture) sold(t *testing.T) int {
	t.Helper()
	tt := new(models.TicketType)
	require.NoError(t, f.bunDB.NewSelect().Model(tt).Where("id = ?", f.ticketType).Scan(context.Background()))
	return tt.Sold
}

func TestReconcileConfirmsOrderExactlyOnce(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	callback := &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: f.order.OrderNumber,
		Amount:      f.order.Total,
		Success:     true,
		Raw:         []byte(`{"status":"success"}`),
	}

	require.NoError(t, f.reconciler.Reconcile(ctx, callback))
	assert.Equal(t, models.OrderPaid, f.orderStatus(t))
	assert.Equal(t, 1, f.kafka.paid)

	payment, err := f.store.GetByOrderID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)

	ord, err := f.orders.DB.GetOrderByID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.MethodChapa), ord.PaymentMethod)
	assert.Equal(t, f.order.OrderNumber, ord.PaymentRef)
	require.NotNil(t, ord.PaidAt)

	// Providers redeliver; the second copy settles nothing new.
	require.NoError(t, f.reconciler.Reconcile(ctx, callback))
	assert.Equal(t, models.OrderPaid, f.orderStatus(t))
	assert.Equal(t, 1, f.kafka.paid)
}

func TestReconcileRejectsAmountMismatch(t *testing.T) {
	f := newReconcileFixture(t)

	err := f.reconciler.Reconcile(context.Background(), &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: f.order.OrderNumber,
		Amount:      f.order.Total - 500,
		Success:     true,
	})
	assert.ErrorIs(t, err, models.ErrAmountMismatch)
	assert.Equal(t, models.OrderPending, f.orderStatus(t))
	assert.Equal(t, 0, f.kafka.paid)
}

func TestReconcileToleratesSubCentDrift(t *testing.T) {
	f := newReconcileFixture(t)

	err := f.reconciler.Reconcile(context.Background(), &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: f.order.OrderNumber,
		Amount:      f.order.Total + 0.005,
		Success:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, f.orderStatus(t))
}

func TestReconcileSkipsAmountCheckWhenProviderOmitsIt(t *testing.T) {
	f := newReconcileFixture(t)

	// Some rails report no amount in the callback; verification then
	// rests on the signature alone.
	err := f.reconciler.Reconcile(context.Background(), &CallbackResult{
		Method:      models.MethodTelebirr,
		ProviderRef: f.order.OrderNumber,
		Amount:      0,
		Success:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, f.orderStatus(t))
}

func TestReconcileFailureCancelsAndReleases(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	require.Equal(t, 2, f.sold(t))

	err := f.reconciler.Reconcile(ctx, &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: f.order.OrderNumber,
		Success:     false,
		Raw:         []byte(`{"status":"failed"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderCancelled, f.orderStatus(t))
	assert.Equal(t, 0, f.sold(t))
	assert.Equal(t, 1, f.kafka.cancelled)

	payment, err := f.store.GetByOrderID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, payment.Status)
}

func TestReconcileFailureAfterSettlementIsIgnored(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reconciler.Reconcile(ctx, &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: f.order.OrderNumber,
		Amount:      f.order.Total,
		Success:     true,
	}))

	// A late failure notice cannot claw back a settled order.
	require.NoError(t, f.reconciler.Reconcile(ctx, &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: f.order.OrderNumber,
		Success:     false,
	}))

	assert.Equal(t, models.OrderPaid, f.orderStatus(t))
	assert.Equal(t, 2, f.sold(t))
	assert.Equal(t, 0, f.kafka.cancelled)

	payment, err := f.store.GetByOrderID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
}

func TestReconcileUnknownRef(t *testing.T) {
	f := newReconcileFixture(t)

	err := f.reconciler.Reconcile(context.Background(), &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: "PA-NEVER-ISSUED",
		Success:     true,
	})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
