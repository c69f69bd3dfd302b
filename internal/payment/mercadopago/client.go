// Package mercadopago читает платежи и merchant orders из API процессора.
// Статусы всегда берутся отсюда, а не из тела вебхука.
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/credentials"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/telemetry"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/version"
)

const (
	// DefaultBaseURL: публичный API MercadoPago.
	DefaultBaseURL = "https://api.mercadopago.com"

	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4 << 10
)

// Client: HTTP-клиент MercadoPago, реализующий domain.PaymentProcessor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      credentials.Provider
	logger     *log.Entry
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// NewClient создаёт клиент. Пустой baseURL означает DefaultBaseURL.
func NewClient(baseURL string, creds credentials.Provider, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: telemetry.NewHTTPClient(defaultTimeout),
		creds:      creds,
		logger:     log.WithField("component", "mercadopago"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	PaymentMethodID   string      `json:"payment_method_id"`
	TransactionAmount float64     `json:"transaction_amount"`
	DateApproved      *string     `json:"date_approved"`
}

type merchantOrderResponse struct {
	ID                json.Number `json:"id"`
	ExternalReference string      `json:"external_reference"`
	Payments          []struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	} `json:"payments"`
}

// GetPayment возвращает авторитетную запись платежа.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (domain.PaymentEvent, error) {
	var resp paymentResponse
	if err := c.get(ctx, "/v1/payments/"+url.PathEscape(paymentID), domain.ErrPaymentNotFound, &resp); err != nil {
		return domain.PaymentEvent{}, err
	}

	event := domain.PaymentEvent{
		PaymentID:         resp.ID.String(),
		Status:            domain.PaymentStatus(resp.Status),
		StatusDetail:      resp.StatusDetail,
		ExternalReference: resp.ExternalReference,
		PaymentMethodID:   resp.PaymentMethodID,
		TransactionAmount: domain.MoneyFromDecimal(resp.TransactionAmount),
	}
	if event.PaymentID == "" {
		event.PaymentID = paymentID
	}
	if resp.DateApproved != nil && *resp.DateApproved != "" {
		approvedAt, err := time.Parse(time.RFC3339Nano, *resp.DateApproved)
		if err != nil {
			c.logger.WithError(err).WithField("payment_id", paymentID).Warn("cannot parse date_approved")
		} else {
			approvedAt = approvedAt.UTC()
			event.ApprovedAt = &approvedAt
		}
	}

	return event, nil
}

// GetMerchantOrder возвращает merchant order со списком связанных платежей.
func (c *Client) GetMerchantOrder(ctx context.Context, merchantOrderID string) (domain.MerchantOrder, error) {
	var resp merchantOrderResponse
	if err := c.get(ctx, "/merchant_orders/"+url.PathEscape(merchantOrderID), domain.ErrMerchantOrderNotFound, &resp); err != nil {
		return domain.MerchantOrder{}, err
	}

	order := domain.MerchantOrder{
		ID:                resp.ID.String(),
		ExternalReference: resp.ExternalReference,
		Payments:          make([]domain.MerchantOrderPayment, 0, len(resp.Payments)),
	}
	for _, p := range resp.Payments {
		order.Payments = append(order.Payments, domain.MerchantOrderPayment{
			ID:     p.ID.String(),
			Status: domain.PaymentStatus(p.Status),
		})
	}
	return order, nil
}

// get выполняет авторизованный GET. На 401 кэш токена сбрасывается и запрос
// повторяется один раз со свежим токеном.
func (c *Client) get(ctx context.Context, path string, notFound error, out any) error {
	for attempt := 1; ; attempt++ {
		status, body, err := c.do(ctx, path)
		if err != nil {
			return err
		}

		switch {
		case status == http.StatusUnauthorized && attempt == 1:
			c.logger.WithField("path", path).Warn("processor rejected token, refreshing credentials")
			c.creds.Invalidate()
			continue
		case status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", domain.ErrProcessorUnauthorized, path)
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %s", notFound, path)
		case status < 200 || status >= 300:
			return fmt.Errorf("%w: %s returned %d: %s", domain.ErrProcessorUnavailable, path, status, strings.TrimSpace(string(body)))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
}

func (c *Client) do(ctx context.Context, path string) (int, []byte, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
	}
	defer resp.Body.Close()

	limit := int64(maxErrorBodySize)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", domain.ErrProcessorUnavailable, err)
	}
	return resp.StatusCode, body, nil
}

var _ domain.PaymentProcessor = (*Client)(nil)
