package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"shop-svc/circuitbreaker"
	"shop-svc/models"

	"go.uber.org/zap"
)

var (
	// ErrRejected is an application-level denial by the provider; the
	// attempt is terminal and must not be retried.
	ErrRejected = errors.New("payment gateway rejected the request")
	// ErrUnavailable is a transport failure that survived all retries.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

const (
	createPaymentPath = "/v3/interapi.svc/CreateMMPayment"
	invoiceStatusPath = "/v3/interapi.svc/GetInvoiceStatus"
)

type Client struct {
	baseURL    string
	appID      string
	appKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	return &Client{
		baseURL: getEnv("GATEWAY_BASE_URL", "https://api.interpayafrica.com"),
		appID:   getEnv("GATEWAY_APP_ID", ""),
		appKey:  getEnv("GATEWAY_APP_KEY", ""),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		breaker:    circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger,
	}
}

// NewClientWithConfig is used by tests and by callers that point the
// client at a non-default gateway endpoint.
func NewClientWithConfig(baseURL, appID, appKey string, timeout time.Duration, logger *zap.Logger) *Client {
	c := NewClient(logger)
	c.baseURL = baseURL
	c.appID = appID
	c.appKey = appKey
	c.httpClient.Timeout = timeout
	return c
}

type CreatePaymentRequest struct {
	AppID            string  `json:"app_id"`
	AppKey           string  `json:"app_key"`
	MobileNetwork    string  `json:"mobile_network"`
	Mobile           string  `json:"mobile"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	FeeTypeCode      string  `json:"feetypecode"`
	Currency         string  `json:"currency"`
	Amount           float64 `json:"amount"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description"`
}

type CreatePaymentResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

type InvoiceStatusResponse struct {
	StatusCode    int         `json:"status_code"`
	TransStatus   TransStatus `json:"trans_status"`
	StatusMessage string      `json:"status_message"`
}

// TransStatus absorbs the gateway's mixed vocabulary: the field arrives
// either as the number 1 or as a string such as "PAID BY CLIENT".
type TransStatus string

func (t *TransStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = TransStatus(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unexpected trans_status %s", data)
	}
	*t = TransStatus(strconv.Itoa(int(n)))
	return nil
}

// MapTransStatus translates the gateway vocabulary into the canonical
// payment status. Anything unrecognized stays Pending.
func MapTransStatus(t TransStatus) models.PaymentStatus {
	switch t {
	case "1", "PAID BY CLIENT":
		return models.PaymentStatusCompleted
	case "FAILED", "CANCELLED":
		return models.PaymentStatusUnsuccessful
	default:
		return models.PaymentStatusPending
	}
}

// CreatePayment asks the provider to initiate a mobile-money charge.
// Only an in-body status_code of 1 counts as accepted.
func (c *Client) CreatePayment(ctx context.Context, network, mobile, payerName, email, currency string, amount float64, transactionID, description string) (*CreatePaymentResponse, error) {
	req := CreatePaymentRequest{
		AppID:            c.appID,
		AppKey:           c.appKey,
		MobileNetwork:    network,
		Mobile:           mobile,
		Name:             payerName,
		Email:            email,
		FeeTypeCode:      "GENERALPAYMENT",
		Currency:         currency,
		Amount:           amount,
		OrderID:          transactionID,
		OrderDescription: description,
	}

	var resp CreatePaymentResponse
	if err := c.post(ctx, createPaymentPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != 1 {
		c.logger.Warn("Gateway rejected payment creation",
			zap.String("transaction_id", transactionID),
			zap.Int("status_code", resp.StatusCode),
			zap.String("status_message", resp.StatusMessage),
		)
		return &resp, fmt.Errorf("%w: %s", ErrRejected, resp.StatusMessage)
	}
	return &resp, nil
}

// QueryStatus looks up a transaction and returns the canonical status.
// Idempotent and safe to call arbitrarily often.
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (models.PaymentStatus, *InvoiceStatusResponse, error) {
	req := map[string]string{
		"app_id":   c.appID,
		"app_key":  c.appKey,
		"order_id": transactionID,
	}

	var resp InvoiceStatusResponse
	if err := c.post(ctx, invoiceStatusPath, req, &resp); err != nil {
		return "", nil, err
	}
	return MapTransStatus(resp.TransStatus), &resp, nil
}

// post sends a JSON request with bounded retries. Transport errors and
// 5xx responses are retried with increasing backoff; 4xx responses are
// surfaced as rejections immediately.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		var respBody []byte
		err := c.breaker.Execute(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			respBody, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 500 {
				return fmt.Errorf("gateway returned %d", resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("%w: gateway returned %d", ErrRejected, resp.StatusCode)
			}
			return nil
		})

		if err == nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to decode gateway response: %w", err)
			}
			return nil
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, ctxErr)
		}

		lastErr = err
		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * c.backoff
			c.logger.Warn("Gateway call failed, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
