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

// CBEBirr bank-transfer rail. Initiation registers the order with the
// gateway and returns a payment URL keyed by a reference ID. Callbacks
// are authenticated with an HMAC of the raw body under a shared
// secret; without a valid signature the callback is rejected outright.
type CBEBirr struct {
	cfg    config.CBEBirrConfig
	client *http.Client
	logger *logger.Logger
}

func NewCBEBirr(cfg config.CBEBirrConfig, log *logger.Logger) *CBEBirr {
	return &CBEBirr{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log,
	}
}

func (c *CBEBirr) Method() models.PaymentMethod { return models.MethodCBEBirr }

type cbeInitPayload struct {
	MerchantID  string `json:"merchantId"`
	ReferenceID string `json:"referenceId"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	NotifyURL   string `json:"notifyUrl"`
	ReturnURL   string `json:"returnUrl"`
}

type cbeInitResponse struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"paymentUrl"`
	Message    string `json:"message"`
}

func (c *CBEBirr) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if c.cfg.MerchantID == "" || c.cfg.APIURL == "" {
		return nil, fmt.Errorf("cbe birr not configured")
	}

	referenceID := req.OrderNumber

	payload := cbeInitPayload{
		MerchantID:  c.cfg.MerchantID,
		ReferenceID: referenceID,
		Amount:      fmt.Sprintf("%.2f", req.Amount),
		Currency:    "ETB",
		Description: req.Description,
		NotifyURL:   req.CallbackURL,
		ReturnURL:   req.ReturnURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cbe birr initiate: %w", err)
	}
	defer resp.Body.Close()

	var initResp cbeInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&initResp); err != nil {
		return nil, fmt.Errorf("cbe birr initiate: decode response: %w", err)
	}
	if !initResp.Success {
		return nil, fmt.Errorf("cbe birr initiate rejected: %s", initResp.Message)
	}

	c.logger.LogPayment("CBE_BIRR", referenceID, "payment registered")
	return &InitiateResult{
		ProviderRef: referenceID,
		CheckoutURL: initResp.PaymentURL,
	}, nil
}

type cbeCallback struct {
	ReferenceID   string  `json:"referenceId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
}

// ParseCallback requires a valid X-CBE-Signature HMAC over the raw
// body. An unsigned or mis-signed callback fails closed.
func (c *CBEBirr) ParseCallback(payload []byte, header http.Header) (*CallbackResult, error) {
	if c.cfg.SharedSecret == "" {
		c.logger.LogSecurity("CBE_CALLBACK", "shared secret not configured, rejecting callback")
		return nil, models.ErrUntrustedCallback
	}

	signature := header.Get("X-CBE-Signature")
	if signature == "" {
		return nil, fmt.Errorf("missing signature header: %w", models.ErrUntrustedCallback)
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.SharedSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		c.logger.LogSecurity("CBE_CALLBACK", "signature mismatch")
		return nil, models.ErrUntrustedCallback
	}

	var cb cbeCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("cbe birr callback: %w", err)
	}
	if cb.ReferenceID == "" {
		return nil, fmt.Errorf("cbe birr callback: missing referenceId")
	}

	return &CallbackResult{
		Method:      models.MethodCBEBirr,
		ProviderRef: cb.ReferenceID,
		Amount:      cb.Amount,
		Success:     cb.Status == "COMPLETED" || cb.Status == "SUCCESS",
		Raw:         payload,
	}, nil
}
