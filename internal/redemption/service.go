package redemption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"pass-commerce/internal/config"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
	"pass-commerce/internal/order"
	orderdb "pass-commerce/internal/order/db"
)

// ScanGuard rejects a token scanned again within the cooldown window.
// ClearScan releases the mark when the scan was rejected.
type ScanGuard interface {
	MarkScanned(ctx context.Context, qrToken string, cooldown time.Duration) (bool, error)
	ClearScan(ctx context.Context, qrToken string) error
}

type RedeemedPublisher interface {
	PublishOrderRedeemed(order models.Order) error
}

// Service resolves presented QR tokens and flips them to their
// terminal redeemed state exactly once. Ticket tokens admit an
// attendee; shop order tokens complete a pickup.
type Service struct {
	Bun    *bun.DB
	Orders *orderdb.DB
	Guard  ScanGuard
	Kafka  RedeemedPublisher
	Cfg    config.CommerceConfig
	logger *logger.Logger
}

func New(b *bun.DB, orders *orderdb.DB, guard ScanGuard, kafka RedeemedPublisher, cfg config.CommerceConfig, log *logger.Logger) *Service {
	return &Service{Bun: b, Orders: orders, Guard: guard, Kafka: kafka, Cfg: cfg, logger: log}
}

func invalid(reason, message string) *models.ValidationResult {
	return &models.ValidationResult{Valid: false, Reason: reason, Message: message}
}

// Redeem validates a scanned token and, when everything checks out,
// marks it used. The outcome is always a ValidationResult for the
// operator's screen; an error return means the check itself could not
// run.
func (s *Service) Redeem(ctx context.Context, qrToken string) (*models.ValidationResult, error) {
	if qrToken == "" {
		return invalid("not_found", "No code presented"), nil
	}

	if s.Guard != nil {
		fresh, err := s.Guard.MarkScanned(ctx, qrToken, s.Cfg.ScanCooldown)
		if err != nil {
			return nil, fmt.Errorf("scan guard: %w", err)
		}
		if !fresh {
			s.logger.LogRedemption("double scan rejected within cooldown")
			return invalid("duplicate_scan", "Code was scanned moments ago"), nil
		}
	}

	res, err := s.resolve(ctx, qrToken)
	if s.Guard != nil && (err != nil || !res.Valid) {
		// A rejected scan must not hold the cooldown, or a code
		// presented a moment too early locks out its own retry.
		if clearErr := s.Guard.ClearScan(ctx, qrToken); clearErr != nil {
			s.logger.Error("REDEMPTION", fmt.Sprintf("clear scan cooldown: %v", clearErr))
		}
	}
	return res, err
}

func (s *Service) resolve(ctx context.Context, qrToken string) (*models.ValidationResult, error) {
	// Ticket tokens and shop order tokens share one scan surface; both
	// are resolved by their unique code.
	ticket := new(models.Ticket)
	err := s.Bun.NewSelect().Model(ticket).Where("qr_code = ?", qrToken).Scan(ctx)
	if err == nil {
		return s.redeemTicket(ctx, ticket)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	ord, err := s.Orders.GetOrderByQRCode(ctx, qrToken)
	if err == nil {
		return s.redeemShopOrder(ctx, ord)
	}
	if !errors.Is(err, models.ErrOrderNotFound) {
		return nil, err
	}

	s.logger.LogRedemption("unknown code presented")
	return invalid("not_found", "Code not recognized"), nil
}

func (s *Service) redeemTicket(ctx context.Context, ticket *models.Ticket) (*models.ValidationResult, error) {
	switch ticket.Status {
	case models.TicketUsed:
		res := invalid("already_used", "Ticket was already used")
		res.UsedAt = ticket.UsedAt
		return res, nil
	case models.TicketCancelled:
		return invalid("cancelled", "Ticket was cancelled"), nil
	case models.TicketExpired:
		return invalid("expired", "Ticket has expired"), nil
	}

	ord, err := s.Orders.GetOrderByID(ctx, ticket.OrderID)
	if err != nil {
		return nil, err
	}
	if ord.Status == models.OrderCancelled || ord.Status == models.OrderRefunded {
		return invalid("cancelled", "The order behind this ticket was cancelled"), nil
	}
	if ord.Status == models.OrderPending {
		res := invalid("not_ready", "Order has not been paid")
		res.CurrentStatus = string(ord.Status)
		return res, nil
	}

	event := new(models.Event)
	if err := s.Bun.NewSelect().Model(event).Where("id = ?", ticket.EventID).Scan(ctx); err != nil {
		return nil, err
	}

	now := time.Now()
	if now.Before(event.Date.Add(-s.Cfg.CheckinOpens)) {
		res := invalid("not_ready", fmt.Sprintf("Check-in opens %s before the event", s.Cfg.CheckinOpens))
		res.CurrentStatus = string(ord.Status)
		return res, nil
	}
	if now.After(event.Date.Add(s.Cfg.CheckinCloses)) {
		return invalid("expired", "Check-in window has closed"), nil
	}

	// Test-and-set: of two concurrent scans only one row update lands.
	usedAt := now
	result, err := s.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("used_at = ?", usedAt).
		Where("id = ?", ticket.ID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current := new(models.Ticket)
		if err := s.Bun.NewSelect().Model(current).Where("id = ?", ticket.ID).Scan(ctx); err != nil {
			return nil, err
		}
		res := invalid("already_used", "Ticket was already used")
		res.UsedAt = current.UsedAt
		return res, nil
	}

	ticketType := new(models.TicketType)
	if err := s.Bun.NewSelect().Model(ticketType).Where("id = ?", ticket.TicketTypeID).Scan(ctx); err != nil {
		return nil, err
	}
	attendee := ""
	if user, err := s.Orders.GetUserByID(ctx, ticket.UserID); err == nil {
		attendee = user.DisplayName()
	}

	s.logger.LogRedemption(fmt.Sprintf("ticket admitted for event %s", event.Title))
	s.publishRedeemed(*ord)

	return &models.ValidationResult{
		Valid:   true,
		Message: "Ticket valid, admit attendee",
		UsedAt:  &usedAt,
		Ticket: &models.TicketBrief{
			TicketID:   ticket.ID,
			EventTitle: event.Title,
			TicketType: ticketType.Name,
			Attendee:   attendee,
		},
	}, nil
}

func (s *Service) redeemShopOrder(ctx context.Context, ord *models.Order) (*models.ValidationResult, error) {
	switch ord.Status {
	case models.OrderCancelled, models.OrderRefunded:
		return invalid("cancelled", "Order was cancelled"), nil
	case models.OrderCompleted:
		res := invalid("already_used", "Order was already picked up")
		res.UsedAt = ord.PickedUpAt
		return res, nil
	case models.OrderPending:
		res := invalid("not_ready", "Order has not been paid")
		res.CurrentStatus = string(ord.Status)
		return res, nil
	}

	// PAID or READY_FOR_PICKUP both complete at the counter; try the
	// prepared state first.
	now := time.Now()
	sets := map[string]interface{}{"picked_up_at": now}
	flipped, err := order.Transition(ctx, s.Bun, ord.ID, models.OrderReadyForPickup, models.OrderCompleted, sets)
	if err != nil && !isTransitionError(err) {
		return nil, err
	}
	if !flipped {
		flipped, err = order.Transition(ctx, s.Bun, ord.ID, models.OrderPaid, models.OrderCompleted, sets)
		if err != nil && !isTransitionError(err) {
			return nil, err
		}
	}
	if !flipped {
		current, err := s.Orders.GetOrderByID(ctx, ord.ID)
		if err != nil {
			return nil, err
		}
		res := invalid("already_used", "Order was already picked up")
		res.UsedAt = current.PickedUpAt
		res.CurrentStatus = string(current.Status)
		return res, nil
	}

	brief, err := s.orderBrief(ctx, ord)
	if err != nil {
		return nil, err
	}

	s.logger.LogRedemption(fmt.Sprintf("order %s picked up", ord.OrderNumber))
	ord.Status = models.OrderCompleted
	ord.PickedUpAt = &now
	s.publishRedeemed(*ord)

	return &models.ValidationResult{
		Valid:   true,
		Message: "Order ready, hand over items",
		UsedAt:  &now,
		Order:   brief,
	}, nil
}

func isTransitionError(err error) bool {
	var transitionErr *models.InvalidTransitionError
	return errors.As(err, &transitionErr)
}

func (s *Service) orderBrief(ctx context.Context, ord *models.Order) (*models.OrderBrief, error) {
	brief := &models.OrderBrief{OrderNumber: ord.OrderNumber}

	if user, err := s.Orders.GetUserByID(ctx, ord.UserID); err == nil {
		brief.Customer = user.DisplayName()
	}
	if ord.PickupLocationID != "" {
		if loc, err := s.Orders.GetPickupLocation(ctx, ord.PickupLocationID); err == nil {
			brief.PickupLocation = loc.Name
		}
	}

	items, err := s.Orders.GetItemsByOrder(ctx, ord.ID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		shopItem := new(models.ShopItem)
		name := item.ShopItemID
		if err := s.Bun.NewSelect().Model(shopItem).Where("id = ?", item.ShopItemID).Scan(ctx); err == nil {
			name = shopItem.Name
		}
		brief.Items = append(brief.Items, models.ItemBrief{Name: name, Quantity: item.Quantity})
	}
	return brief, nil
}

func (s *Service) publishRedeemed(ord models.Order) {
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.PublishOrderRedeemed(ord); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish order redeemed: %v", err))
	}
}
