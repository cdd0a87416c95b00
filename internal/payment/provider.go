package payment

import (
	"context"
	"net/http"

	"pass-commerce/internal/models"
)

// InitiateRequest carries everything a provider needs to start a
// checkout for an order.
type InitiateRequest struct {
	OrderID     string
	OrderNumber string
	Amount      float64
	Phone       string
	Email       string
	Description string
	CallbackURL string
	ReturnURL   string
}

// InitiateResult is what the client needs to complete payment.
type InitiateResult struct {
	ProviderRef string `json:"provider_ref"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

// CallbackResult is the normalized outcome of a provider callback.
// Success false means the provider reported a failed or cancelled
// payment, which is still a verified, actionable callback.
type CallbackResult struct {
	Method      models.PaymentMethod
	ProviderRef string
	Amount      float64
	Success     bool
	Raw         []byte
}

// Provider is one payment rail. ParseCallback authenticates the
// payload before anything else; an unverifiable callback returns
// models.ErrUntrustedCallback and never reaches reconciliation.
type Provider interface {
	Method() models.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	ParseCallback(payload []byte, header http.Header) (*CallbackResult, error)
}

// Registry dispatches by payment method.
type Registry struct {
	providers map[models.PaymentMethod]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.PaymentMethod]Provider)}
	for _, p := range providers {
		r.providers[p.Method()] = p
	}
	return r
}

func (r *Registry) Get(method models.PaymentMethod) (Provider, bool) {
	p, ok := r.providers[method]
	return p, ok
}
