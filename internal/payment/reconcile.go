package payment

import (
	"context"
	"fmt"
	"math"
	"time"

	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/order"
	orderdb "pass-commerce/internal/order/db"
	"pass-commerce/internal/payment/db"
)

// OrderCanceller releases a pending order's inventory. Satisfied by
// order.OrderService.
type OrderCanceller interface {
	CancelAndRelease(ctx context.Context, orderID string) (bool, error)
}

// PaidPublisher streams settled-order events downstream.
type PaidPublisher interface {
	PublishOrderPaid(order models.Order) error
	PublishOrderCancelled(order models.Order) error
}

// Notifier tells the buyer their payment went through. Best effort:
// a failed notification never fails reconciliation.
type Notifier interface {
	OrderPaid(ctx context.Context, user *models.User, order *models.Order)
}

// Reconciler applies verified provider callbacks to orders. The
// PENDING to PAID flip is a conditional update, so duplicate
// deliveries of the same callback settle the order exactly once.
type Reconciler struct {
	Store     *db.Store
	Orders    *orderdb.DB
	Canceller OrderCanceller
	Kafka     PaidPublisher
	Notify    Notifier
	Watchers  StatusNotifier
	logger    *logger.Logger
}

func NewReconciler(store *db.Store, orders *orderdb.DB, canceller OrderCanceller, kafka PaidPublisher, notify Notifier, watchers StatusNotifier, log *logger.Logger) *Reconciler {
	return &Reconciler{
		Store:     store,
		Orders:    orders,
		Canceller: canceller,
		Kafka:     kafka,
		Notify:    notify,
		Watchers:  watchers,
		logger:    log,
	}
}

// Reconcile settles an order against a verified callback. Callbacks
// never create orders: an unknown provider ref is ErrOrderNotFound.
func (r *Reconciler) Reconcile(ctx context.Context, res *CallbackResult) error {
	payment, err := r.Store.GetByProviderRef(ctx, res.ProviderRef)
	if err != nil {
		return fmt.Errorf("no payment for ref %s: %w", res.ProviderRef, err)
	}

	ord, err := r.Orders.GetOrderByID(ctx, payment.OrderID)
	if err != nil {
		return err
	}

	if res.Success {
		if res.Amount > 0 && math.Abs(res.Amount-ord.Total) > 0.01 {
			r.logger.LogSecurity("RECONCILE", fmt.Sprintf("amount mismatch on %s: callback %.2f, order %.2f", ord.OrderNumber, res.Amount, ord.Total))
			return fmt.Errorf("order %s: %w", ord.OrderNumber, models.ErrAmountMismatch)
		}
		return r.confirm(ctx, payment, ord, res)
	}
	return r.fail(ctx, payment, ord, res)
}

func (r *Reconciler) confirm(ctx context.Context, payment *models.Payment, ord *models.Order, res *CallbackResult) error {
	now := time.Now()
	flipped, err := order.Transition(ctx, r.Orders.Bun, ord.ID, models.OrderPending, models.OrderPaid, map[string]interface{}{
		"payment_method": string(res.Method),
		"payment_ref":    res.ProviderRef,
		"paid_at":        now,
	})
	if err != nil {
		return err
	}
	if !flipped {
		current, err := r.Orders.GetOrderByID(ctx, ord.ID)
		if err != nil {
			return err
		}
		if current.Status == models.OrderPaid || current.Status == models.OrderReadyForPickup || current.Status == models.OrderCompleted {
			// Duplicate delivery after a successful flip.
			r.logger.LogPayment(string(res.Method), res.ProviderRef, "duplicate confirmation ignored")
			return nil
		}
		return &models.InvalidTransitionError{From: current.Status, To: models.OrderPaid}
	}

	if err := r.Store.SetOutcome(ctx, r.Store.Bun, payment.ID, models.PaymentCompleted, res.Raw); err != nil {
		r.logger.Error("PAYMENT", fmt.Sprintf("record outcome for %s: %v", ord.OrderNumber, err))
	}

	r.logger.LogPayment(string(res.Method), res.ProviderRef, fmt.Sprintf("order %s confirmed", ord.OrderNumber))

	ord.Status = models.OrderPaid
	ord.PaymentMethod = string(res.Method)
	ord.PaymentRef = res.ProviderRef
	ord.PaidAt = &now

	if r.Kafka != nil {
		if err := r.Kafka.PublishOrderPaid(*ord); err != nil {
			r.logger.Error("KAFKA", fmt.Sprintf("publish order paid: %v", err))
		}
	}
	if r.Notify != nil {
		if user, err := r.Orders.GetUserByID(ctx, ord.UserID); err == nil {
			r.Notify.OrderPaid(ctx, user, ord)
		}
	}
	if r.Watchers != nil {
		r.Watchers.Publish(ord.ID, models.OrderPaid)
	}
	return nil
}

func (r *Reconciler) fail(ctx context.Context, payment *models.Payment, ord *models.Order, res *CallbackResult) error {
	flipped, err := r.Canceller.CancelAndRelease(ctx, ord.ID)
	if err != nil {
		return err
	}
	if !flipped {
		// The order already settled; a late failure notice must not
		// rewrite the payment record either.
		r.logger.LogPayment(string(res.Method), res.ProviderRef, "failure callback on settled order ignored")
		return nil
	}

	if err := r.Store.SetOutcome(ctx, r.Store.Bun, payment.ID, models.PaymentFailed, res.Raw); err != nil {
		r.logger.Error("PAYMENT", fmt.Sprintf("record outcome for %s: %v", ord.OrderNumber, err))
	}

	r.logger.LogPayment(string(res.Method), res.ProviderRef, fmt.Sprintf("order %s cancelled after failed payment", ord.OrderNumber))

	ord.Status = models.OrderCancelled
	if r.Kafka != nil {
		if err := r.Kafka.PublishOrderCancelled(*ord); err != nil {
			r.logger.Error("KAFKA", fmt.Sprintf("publish order cancelled: %v", err))
		}
	}
	if r.Watchers != nil {
		r.Watchers.Publish(ord.ID, models.OrderCancelled)
	}
	return nil
}
