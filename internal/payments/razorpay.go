// Package payments talks to the hosted payment gateway: order creation, signature
// checks and refunds.
package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/razorpay/razorpay-go/utils"

	"github.com/joao-fontenele/threadline/internal/domain"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	httpClient    *http.Client
}

func NewClient(baseURL, keyID, keySecret, webhookSecret string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		httpClient:    httpClient,
	}
}

// KeyID is the public key the hosted checkout widget is opened with.
func (c *Client) KeyID() string {
	return c.keyID
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func upstream(op string, cause error) error {
	return errors.Wrap(fmt.Errorf("%w: %v", domain.ErrUpstream, cause), op)
}

func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (GatewayOrder, error) {
	var order GatewayOrder
	body := map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}
	if err := c.post(ctx, "/orders", body, &order); err != nil {
		return GatewayOrder{}, upstream("create gateway order", err)
	}
	if order.ID == "" {
		return GatewayOrder{}, upstream("create gateway order", fmt.Errorf("response missing order id"))
	}
	return order, nil
}

func (c *Client) Refund(ctx context.Context, paymentID string, amountMinor int64) (Refund, error) {
	if paymentID == "" {
		return Refund{}, fmt.Errorf("%w: order has no gateway payment id", domain.ErrConflict)
	}
	var refund Refund
	body := map[string]any{"amount": amountMinor}
	if err := c.post(ctx, "/payments/"+paymentID+"/refund", body, &refund); err != nil {
		return Refund{}, upstream("refund payment", err)
	}
	return refund, nil
}

// VerifyPaymentSignature checks the signature the checkout widget returns for an
// order and payment pair against the key secret.
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	params := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	return utils.VerifyPaymentSignature(params, signature, c.keySecret)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header over the raw body.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, c.webhookSecret)
}

// Sign produces the hex HMAC-SHA256 the gateway attaches to payloads. Fakes of the
// gateway use it to issue signatures the verifiers accept.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, apiErr.Error.Description)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	return json.Unmarshal(raw, out)
}
