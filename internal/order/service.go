package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"pass-commerce/internal/config"
	"pass-commerce/internal/inventory"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/order/db"
	"pass-commerce/internal/promo"
	"pass-commerce/internal/utils"
)

type KafkaPublisher interface {
	PublishOrderCreated(order models.OrderWithLines) error
	PublishOrderPaid(order models.Order) error
	PublishOrderCancelled(order models.Order) error
	PublishOrderRedeemed(order models.Order) error
}

type TicketLine struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

type TicketPurchaseRequest struct {
	EventID   string       `json:"event_id"`
	Tickets   []TicketLine `json:"tickets"`
	PromoCode string       `json:"promo_code,omitempty"`
}

type ShopLine struct {
	ShopItemID string `json:"shop_item_id"`
	Quantity   int    `json:"quantity"`
}

type ShopOrderRequest struct {
	Items            []ShopLine `json:"items"`
	PickupLocationID string     `json:"pickup_location_id"`
	PromoCode        string     `json:"promo_code,omitempty"`
}

type PurchaseResult struct {
	Order           models.Order       `json:"order"`
	Tickets         []models.Ticket    `json:"tickets,omitempty"`
	Items           []models.OrderItem `json:"items,omitempty"`
	PaymentRequired float64            `json:"payment_required"`
}

// OrderService drives the purchase flow and the order state machine.
// Every mutating path runs as one transaction: either the whole
// line-item set commits or none of it does.
type OrderService struct {
	DB     *db.DB
	Promo  *promo.Service
	Kafka  KafkaPublisher
	Cfg    config.CommerceConfig
	logger *logger.Logger
}

func NewOrderService(database *db.DB, promoSvc *promo.Service, kafkaPub KafkaPublisher, cfg config.CommerceConfig, log *logger.Logger) *OrderService {
	return &OrderService{DB: database, Promo: promoSvc, Kafka: kafkaPub, Cfg: cfg, logger: log}
}

// PurchaseTickets reserves inventory, applies the promo code, and
// creates the order with its tickets in one atomic unit of work.
// Tickets are created VALID immediately; payment confirmation only
// flips the order status.
func (s *OrderService) PurchaseTickets(ctx context.Context, userID string, req TicketPurchaseRequest) (*PurchaseResult, error) {
	if len(req.Tickets) == 0 {
		return nil, fmt.Errorf("no tickets requested: %w", models.ErrNotAvailable)
	}

	orderID := uuid.NewString()
	var result *PurchaseResult

	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		ledger := inventory.New(tx)

		var subtotal float64
		var tickets []models.Ticket

		for _, line := range req.Tickets {
			tt, err := ledger.ReserveTicketType(ctx, line.TicketTypeID, line.Quantity)
			if err != nil {
				return err
			}
			if tt.EventID != req.EventID {
				return fmt.Errorf("ticket type %s does not belong to event %s: %w", tt.ID, req.EventID, models.ErrNotAvailable)
			}

			subtotal += tt.Price * float64(line.Quantity)
			for i := 0; i < line.Quantity; i++ {
				tickets = append(tickets, models.Ticket{
					ID:              uuid.NewString(),
					QRCode:          utils.GenerateQRToken("PA"),
					UserID:          userID,
					EventID:         req.EventID,
					TicketTypeID:    tt.ID,
					OrderID:         orderID,
					Status:          models.TicketValid,
					PriceAtPurchase: tt.Price,
					CreatedAt:       time.Now(),
				})
			}
		}
		subtotal = utils.RoundMoney(subtotal)

		var discount float64
		if req.PromoCode != "" {
			quote, err := s.Promo.WithTx(tx).Validate(ctx, req.PromoCode, userID, req.EventID, subtotal)
			if err != nil {
				return err
			}
			discount = quote.Discount
		}

		serviceFee := utils.RoundMoney((subtotal - discount) * s.Cfg.TicketFeeRate)
		total := utils.RoundMoney(subtotal - discount + serviceFee)

		order := models.Order{
			ID:          orderID,
			OrderNumber: utils.GenerateOrderNumber("PA"),
			UserID:      userID,
			Subtotal:    subtotal,
			Discount:    discount,
			ServiceFee:  serviceFee,
			Total:       total,
			Status:      models.OrderPending,
			CreatedAt:   time.Now(),
		}

		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
			return fmt.Errorf("create tickets: %w", err)
		}

		if req.PromoCode != "" {
			if _, err := s.Promo.WithTx(tx).ApplyForEvent(ctx, req.PromoCode, userID, req.EventID, orderID, subtotal); err != nil {
				return err
			}
		}

		result = &PurchaseResult{
			Order:           order,
			Tickets:         tickets,
			PaymentRequired: total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogOrder("CREATE", result.Order.OrderNumber, fmt.Sprintf("%d tickets, total %.2f", len(result.Tickets), result.Order.Total))
	s.publishCreated(models.OrderWithLines{Order: result.Order, Tickets: result.Tickets})
	return result, nil
}

// CreateShopOrder reserves shop stock and creates the order with its
// lines and a pickup QR token atomically. Mixed-merchant carts are
// rejected outright; an order settles against exactly one merchant.
func (s *OrderService) CreateShopOrder(ctx context.Context, userID string, req ShopOrderRequest) (*PurchaseResult, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("no items requested: %w", models.ErrNotAvailable)
	}

	loc, err := s.DB.GetPickupLocation(ctx, req.PickupLocationID)
	if err != nil {
		return nil, err
	}
	if !loc.IsActive {
		return nil, fmt.Errorf("pickup location %s is not active: %w", loc.Name, models.ErrNotAvailable)
	}

	orderID := uuid.NewString()
	var result *PurchaseResult

	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		ledger := inventory.New(tx)

		var subtotal float64
		var merchantID string
		var items []models.OrderItem

		for _, line := range req.Items {
			item, err := ledger.ReserveShopItem(ctx, line.ShopItemID, line.Quantity)
			if err != nil {
				return err
			}

			if item.MerchantID != "" {
				if merchantID != "" && merchantID != item.MerchantID {
					return fmt.Errorf("items from multiple merchants cannot share an order: %w", models.ErrNotAvailable)
				}
				merchantID = item.MerchantID
			}

			lineSubtotal := utils.RoundMoney(item.Price * float64(line.Quantity))
			subtotal += lineSubtotal
			items = append(items, models.OrderItem{
				ID:         uuid.NewString(),
				OrderID:    orderID,
				ShopItemID: item.ID,
				Quantity:   line.Quantity,
				Price:      item.Price,
				Subtotal:   lineSubtotal,
			})
		}
		subtotal = utils.RoundMoney(subtotal)

		var discount float64
		if req.PromoCode != "" {
			quote, err := s.Promo.WithTx(tx).Validate(ctx, req.PromoCode, userID, "", subtotal)
			if err != nil {
				return err
			}
			discount = quote.Discount
		}

		serviceFee := utils.RoundMoney((subtotal - discount) * s.Cfg.ShopFeeRate)
		total := utils.RoundMoney(subtotal - discount + serviceFee)

		order := models.Order{
			ID:               orderID,
			OrderNumber:      utils.GenerateOrderNumber("PS"),
			UserID:           userID,
			MerchantID:       merchantID,
			PickupLocationID: loc.ID,
			Subtotal:         subtotal,
			Discount:         discount,
			ServiceFee:       serviceFee,
			Total:            total,
			Status:           models.OrderPending,
			QRCode:           utils.GenerateQRToken("PS"),
			CreatedAt:        time.Now(),
		}

		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
			return fmt.Errorf("create order items: %w", err)
		}

		if req.PromoCode != "" {
			if _, err := s.Promo.WithTx(tx).Apply(ctx, req.PromoCode, userID, orderID, subtotal); err != nil {
				return err
			}
		}

		result = &PurchaseResult{
			Order:           order,
			Items:           items,
			PaymentRequired: total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogOrder("CREATE", result.Order.OrderNumber, fmt.Sprintf("%d shop lines, total %.2f", len(result.Items), result.Order.Total))
	s.publishCreated(models.OrderWithLines{Order: result.Order, Items: result.Items})
	return result, nil
}

// GetOrder fetches an order with its lines, scoped to the owning user.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*models.OrderWithLines, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		// Do not reveal other users' orders exist.
		return nil, models.ErrOrderNotFound
	}

	tickets, err := s.DB.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.DB.GetItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderWithLines{Order: *order, Tickets: tickets, Items: items}, nil
}

func (s *OrderService) GetUserOrders(ctx context.Context, userID string) ([]models.OrderWithLines, error) {
	return s.DB.GetOrdersWithLinesByUser(ctx, userID)
}

// MarkReadyForPickup is the merchant-operator step between payment and
// pickup for shop orders.
func (s *OrderService) MarkReadyForPickup(ctx context.Context, orderID string) error {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	flipped, err := Transition(ctx, s.DB.Bun, orderID, models.OrderPaid, models.OrderReadyForPickup, nil)
	if err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("ready-for-pickup rejected for %s (status %s): %v", order.OrderNumber, order.Status, err))
		return err
	}
	if !flipped {
		return &models.InvalidTransitionError{From: order.Status, To: models.OrderReadyForPickup}
	}

	s.logger.LogOrder("READY", order.OrderNumber, "marked ready for pickup")
	return nil
}

// CancelAndRelease cancels a PENDING order and returns every held unit
// to inventory in the same transaction. Used by the failed-payment path
// and the pending-order reaper. Returns false without touching anything
// when the order already left PENDING.
func (s *OrderService) CancelAndRelease(ctx context.Context, orderID string) (bool, error) {
	cancelled := false
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		flipped, err := Transition(ctx, tx, orderID, models.OrderPending, models.OrderCancelled, nil)
		if err != nil {
			return err
		}
		if !flipped {
			// Another writer settled this order first; nothing to release.
			return nil
		}
		cancelled = true

		ledger := inventory.New(tx)

		var tickets []models.Ticket
		if err := tx.NewSelect().Model(&tickets).Where("order_id = ?", orderID).Scan(ctx); err != nil {
			return err
		}
		byType := make(map[string]int)
		for _, t := range tickets {
			byType[t.TicketTypeID]++
		}
		for ttID, qty := range byType {
			if err := ledger.ReleaseTicketType(ctx, ttID, qty); err != nil {
				return err
			}
		}
		if len(tickets) > 0 {
			_, err = tx.NewUpdate().
				Model((*models.Ticket)(nil)).
				Set("status = ?", models.TicketCancelled).
				Where("order_id = ?", orderID).
				Where("status = ?", models.TicketValid).
				Exec(ctx)
			if err != nil {
				return err
			}
		}

		var items []models.OrderItem
		if err := tx.NewSelect().Model(&items).Where("order_id = ?", orderID).Scan(ctx); err != nil {
			return err
		}
		for _, it := range items {
			if err := ledger.ReleaseShopItem(ctx, it.ShopItemID, it.Quantity); err != nil {
				return err
			}
		}

		s.logger.LogOrder("CANCEL", orderID, "cancelled and inventory released")
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// RunReaper cancels orders abandoned in PENDING past the configured TTL
// and releases their inventory. Runs until the context is done.
func (s *OrderService) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(s.Cfg.ReaperInterval)
	defer ticker.Stop()

	s.logger.Info("REAPER", fmt.Sprintf("pending-order reaper started (TTL %s)", s.Cfg.PendingTTL))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("REAPER", "pending-order reaper stopped")
			return
		case <-ticker.C:
			s.reapExpired(ctx)
		}
	}
}

func (s *OrderService) reapExpired(ctx context.Context) {
	ids, err := s.DB.GetExpiredPending(ctx, s.Cfg.PendingTTL, 100)
	if err != nil {
		s.logger.Error("REAPER", fmt.Sprintf("fetch expired pending orders: %v", err))
		return
	}
	for _, id := range ids {
		cancelled, err := s.CancelAndRelease(ctx, id)
		if err != nil {
			s.logger.Error("REAPER", fmt.Sprintf("cancel expired order %s: %v", id, err))
			continue
		}
		if !cancelled {
			continue
		}
		if order, err := s.DB.GetOrderByID(ctx, id); err == nil {
			s.publishCancelled(*order)
		}
	}
}

func (s *OrderService) publishCreated(owl models.OrderWithLines) {
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.PublishOrderCreated(owl); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish order created: %v", err))
	}
}

func (s *OrderService) publishCancelled(order models.Order) {
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.PublishOrderCancelled(order); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish order cancelled: %v", err))
	}
}
