package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pass-commerce/internal/config"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
)

// Notifier is one delivery channel for buyer-facing messages.
type Notifier interface {
	OrderPaid(ctx context.Context, user *models.User, order *models.Order)
}

// Fanout delivers through every configured channel.
type Fanout []Notifier

func (f Fanout) OrderPaid(ctx context.Context, user *models.User, order *models.Order) {
	for _, n := range f {
		n.OrderPaid(ctx, user, order)
	}
}

// SMSNotifier posts payment confirmations to the SMS gateway. Every
// failure is logged and dropped; a confirmation SMS is never worth
// failing a settlement over.
type SMSNotifier struct {
	cfg    config.NotifyConfig
	client *http.Client
	logger *logger.Logger
}

func NewSMSNotifier(cfg config.NotifyConfig, log *logger.Logger) *SMSNotifier {
	return &SMSNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log,
	}
}

type smsPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (n *SMSNotifier) send(ctx context.Context, to, message string) {
	if n.cfg.SMSEndpoint == "" || to == "" {
		return
	}

	body, err := json.Marshal(smsPayload{
		From:    n.cfg.SMSSender,
		To:      to,
		Message: message,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.SMSEndpoint, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("NOTIFY", fmt.Sprintf("build sms request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.cfg.SMSToken)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("NOTIFY", fmt.Sprintf("send sms to %s: %v", to, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Error("NOTIFY", fmt.Sprintf("sms gateway returned %d for %s", resp.StatusCode, to))
		return
	}
	n.logger.Info("NOTIFY", fmt.Sprintf("confirmation sms sent to %s", to))
}

// OrderPaid tells the buyer their payment went through, with the
// pickup hint for shop orders.
func (n *SMSNotifier) OrderPaid(ctx context.Context, user *models.User, order *models.Order) {
	if user == nil || order == nil {
		return
	}

	message := fmt.Sprintf("Payment received for order %s (%.2f ETB). Your tickets are ready in the app.", order.OrderNumber, order.Total)
	if order.QRCode != "" {
		message = fmt.Sprintf("Payment received for order %s (%.2f ETB). Show your pickup code at the counter.", order.OrderNumber, order.Total)
	}
	n.send(ctx, user.Phone, message)
}

// EmailLogger stands in for the email channel until a gateway is
// wired up: it records what would have been sent so the flow stays
// observable.
type EmailLogger struct {
	logger *logger.Logger
}

func NewEmailLogger(log *logger.Logger) *EmailLogger {
	return &EmailLogger{logger: log}
}

func (n *EmailLogger) OrderPaid(_ context.Context, user *models.User, order *models.Order) {
	if user == nil || order == nil || user.Email == "" {
		return
	}
	n.logger.Info("NOTIFY", fmt.Sprintf("email receipt for order %s queued for %s", order.OrderNumber, user.Email))
}
