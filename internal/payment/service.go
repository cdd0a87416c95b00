package payment

import (
	"context"
	"fmt"
	"time"

	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	orderdb "pass-commerce/internal/order/db"
	"pass-commerce/internal/payment/db"
)

// PaymentLocker guards against double-submitted initiations for the
// same order.
type PaymentLocker interface {
	AcquirePaymentLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error)
	ReleasePaymentLock(ctx context.Context, orderID string) error
}

// StatusNotifier fans an order's payment status out to checkout
// watchers.
type StatusNotifier interface {
	Publish(orderID string, status models.OrderStatus)
}

// Service owns payment initiation and status queries. Reconciliation
// of provider callbacks lives in Reconciler.
type Service struct {
	Registry  *Registry
	Store     *db.Store
	Orders    *orderdb.DB
	Locks     PaymentLocker
	PublicURL string
	logger    *logger.Logger
}

func NewService(registry *Registry, store *db.Store, orders *orderdb.DB, locks PaymentLocker, publicURL string, log *logger.Logger) *Service {
	return &Service{
		Registry:  registry,
		Store:     store,
		Orders:    orders,
		Locks:     locks,
		PublicURL: publicURL,
		logger:    log,
	}
}

// Initiate starts a checkout for a PENDING order with the chosen
// provider. The provider ref handed out here is the key the eventual
// callback is matched on.
func (s *Service) Initiate(ctx context.Context, userID, orderID string, method models.PaymentMethod) (*InitiateResult, error) {
	provider, ok := s.Registry.Get(method)
	if !ok {
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}

	order, err := s.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, models.ErrOrderNotFound
	}
	if order.Status != models.OrderPending {
		return nil, &models.InvalidTransitionError{From: order.Status, To: models.OrderPaid}
	}

	if s.Locks != nil {
		acquired, err := s.Locks.AcquirePaymentLock(ctx, orderID, 30*time.Second)
		if err != nil {
			return nil, fmt.Errorf("payment lock: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("payment initiation already in progress for order %s", order.OrderNumber)
		}
		defer func() {
			if err := s.Locks.ReleasePaymentLock(context.Background(), orderID); err != nil {
				s.logger.Error("PAYMENT", fmt.Sprintf("release payment lock for %s: %v", orderID, err))
			}
		}()
	}

	user, err := s.Orders.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := provider.Initiate(ctx, InitiateRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Phone:       user.Phone,
		Email:       user.Email,
		Description: fmt.Sprintf("Order %s", order.OrderNumber),
		CallbackURL: s.callbackURL(method),
		ReturnURL:   s.PublicURL + "/checkout/complete?order=" + order.ID,
	})
	if err != nil {
		s.logger.LogPayment(string(method), order.OrderNumber, fmt.Sprintf("initiation failed: %v", err))
		return nil, err
	}

	if _, err := s.Store.Upsert(ctx, order.ID, order.Total, method, result.ProviderRef); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.logger.LogPayment(string(method), result.ProviderRef, fmt.Sprintf("initiated for order %s", order.OrderNumber))
	return result, nil
}

// Status reports the current payment state of an order to its owner.
func (s *Service) Status(ctx context.Context, userID, orderID string) (*models.Payment, models.OrderStatus, error) {
	order, err := s.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	if order.UserID != userID {
		return nil, "", models.ErrOrderNotFound
	}

	payment, err := s.Store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, order.Status, err
	}
	return payment, order.Status, nil
}

func (s *Service) callbackURL(method models.PaymentMethod) string {
	switch method {
	case models.MethodChapa:
		return s.PublicURL + "/api/v1/payments/callback/chapa"
	case models.MethodTelebirr:
		return s.PublicURL + "/api/v1/payments/callback/telebirr"
	case models.MethodCBEBirr:
		return s.PublicURL + "/api/v1/payments/callback/cbe"
	}
	return s.PublicURL + "/api/v1/payments/callback"
}
