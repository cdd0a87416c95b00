package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pass-commerce/internal/config"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/models"
)

// Chapa hosted checkout. The buyer is redirected to a Chapa page and
// Chapa posts a webhook when the charge settles.
// https://developer.chapa.co/docs
type Chapa struct {
	cfg    config.ChapaConfig
	client *http.Client
	logger *logger.Logger
}

func NewChapa(cfg config.ChapaConfig, log *logger.Logger) *Chapa {
	return &Chapa{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log,
	}
}

func (c *Chapa) Method() models.PaymentMethod { return models.MethodChapa }

type chapaInitPayload struct {
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	PhoneNumber   string            `json:"phone_number,omitempty"`
	Email         string            `json:"email,omitempty"`
	TxRef         string            `json:"tx_ref"`
	CallbackURL   string            `json:"callback_url"`
	ReturnURL     string            `json:"return_url"`
	Customization map[string]string `json:"customization,omitempty"`
}

type chapaInitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

func (c *Chapa) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	txRef := req.OrderNumber

	payload := chapaInitPayload{
		Amount:      fmt.Sprintf("%.2f", req.Amount),
		Currency:    "ETB",
		PhoneNumber: req.Phone,
		Email:       req.Email,
		TxRef:       txRef,
		CallbackURL: req.CallbackURL,
		ReturnURL:   req.ReturnURL,
		Customization: map[string]string{
			"title":       "PassAddis",
			"description": req.Description,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chapa initialize: %w", err)
	}
	defer resp.Body.Close()

	var initResp chapaInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&initResp); err != nil {
		return nil, fmt.Errorf("chapa initialize: decode response: %w", err)
	}
	if initResp.Status != "success" {
		c.logger.LogPayment("CHAPA", txRef, fmt.Sprintf("initialize rejected: %s", initResp.Message))
		return nil, fmt.Errorf("chapa initialize rejected: %s", initResp.Message)
	}

	c.logger.LogPayment("CHAPA", txRef, "checkout created")
	return &InitiateResult{
		ProviderRef: txRef,
		CheckoutURL: initResp.Data.CheckoutURL,
	}, nil
}

type chapaWebhook struct {
	Event  string  `json:"event"`
	TxRef  string  `json:"tx_ref"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

// ParseCallback authenticates the webhook by recomputing HMAC-SHA256
// of the raw body with the secret key and comparing it against the
// x-chapa-signature header in constant time.
func (c *Chapa) ParseCallback(payload []byte, header http.Header) (*CallbackResult, error) {
	signature := header.Get("x-chapa-signature")
	if signature == "" {
		signature = header.Get("Chapa-Signature")
	}
	if signature == "" {
		return nil, fmt.Errorf("missing signature header: %w", models.ErrUntrustedCallback)
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		c.logger.LogSecurity("CHAPA_CALLBACK", "signature mismatch")
		return nil, models.ErrUntrustedCallback
	}

	var hook chapaWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("chapa callback: %w", err)
	}
	if hook.TxRef == "" {
		return nil, fmt.Errorf("chapa callback: missing tx_ref")
	}

	return &CallbackResult{
		Method:      models.MethodChapa,
		ProviderRef: hook.TxRef,
		Amount:      hook.Amount,
		Success:     hook.Status == "success",
		Raw:         payload,
	}, nil
}

type chapaVerifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		Status string  `json:"status"`
		Amount float64 `json:"amount"`
	} `json:"data"`
}

// Verify asks Chapa directly for the final state of a transaction.
// Used for reconciliation sweeps when a webhook was missed.
func (c *Chapa) Verify(ctx context.Context, txRef string) (bool, float64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/transaction/verify/"+txRef, nil)
	if err != nil {
		return false, 0, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false, 0, fmt.Errorf("chapa verify: %w", err)
	}
	defer resp.Body.Close()

	var verifyResp chapaVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verifyResp); err != nil {
		return false, 0, fmt.Errorf("chapa verify: decode response: %w", err)
	}

	ok := verifyResp.Status == "success" && verifyResp.Data.Status == "success"
	return ok, verifyResp.Data.Amount, nil
}
