package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"pass-commerce/internal/models"
)

type countingNotifier struct {
	calls int
}

func (c *countingNotifier) OrderPaid(context.Context, *models.User, *models.Order) {
	c.calls++
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	first := &countingNotifier{}
	second := &countingNotifier{}

	Fanout{first, second}.OrderPaid(context.Background(), &models.User{ID: "user-1"}, &models.Order{ID: "order-1"})

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestEmailLoggerIgnoresMissingRecipient(t *testing.T) {
	n := NewEmailLogger(nil)

	// No email on file, nothing to log; must not panic on the nil
	// logger either.
	n.OrderPaid(context.Background(), &models.User{ID: "user-1"}, &models.Order{ID: "order-1"})
	n.OrderPaid(context.Background(), nil, nil)
}
