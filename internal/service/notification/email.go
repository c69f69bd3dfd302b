package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/credentials"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/telemetry"
)

const (
	// DefaultSendGridBaseURL: публичный API SendGrid.
	DefaultSendGridBaseURL = "https://api.sendgrid.com"

	defaultSenderTimeout = 10 * time.Second
	maxErrorBodySize     = 4 << 10
)

// EmailConfig описывает отправителя писем.
type EmailConfig struct {
	BaseURL   string
	FromEmail string
	FromName  string
	ReplyTo   string
}

// SendGridSender отправляет письма через SendGrid v3 mail/send.
type SendGridSender struct {
	cfg        EmailConfig
	creds      credentials.Provider
	httpClient *http.Client
	logger     *log.Entry
}

// NewSendGridSender создаёт отправителя. Ключ API берётся из creds на каждую отправку.
func NewSendGridSender(cfg EmailConfig, creds credentials.Provider, httpClient *http.Client, logger *log.Entry) *SendGridSender {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultSendGridBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.FromEmail == "" {
		cfg.FromEmail = "noreply@sweetbarchocolates.com.br"
	}
	if cfg.FromName == "" {
		cfg.FromName = "Sweet Bar Chocolates"
	}
	if httpClient == nil {
		httpClient = telemetry.NewHTTPClient(defaultSenderTimeout)
	}
	if logger == nil {
		logger = log.WithField("component", "sendgrid")
	}
	return &SendGridSender{cfg: cfg, creds: creds, httpClient: httpClient, logger: logger}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMail struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From       sendGridAddress   `json:"from"`
	ReplyTo    *sendGridAddress  `json:"reply_to,omitempty"`
	Subject    string            `json:"subject"`
	Content    []sendGridContent `json:"content"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

// SendOrderConfirmation отправляет письмо клиенту заказа.
func (s *SendGridSender) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	apiKey, err := s.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("sendgrid api key: %w", err)
	}

	mail := sendGridMail{
		From:    sendGridAddress{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
		Subject: ConfirmationSubject(order),
		Content: []sendGridContent{{Type: "text/plain", Value: ConfirmationText(order)}},
		CustomArgs: map[string]string{
			"orderId":       order.ID,
			"orderNumber":   order.OrderNumber,
			"transactionId": transactionRef(order),
			"type":          "order_confirmation",
		},
	}
	mail.Personalizations = make([]struct {
		To []sendGridAddress `json:"to"`
	}, 1)
	mail.Personalizations[0].To = []sendGridAddress{{Email: order.CustomerEmail, Name: order.CustomerName}}
	if s.cfg.ReplyTo != "" {
		mail.ReplyTo = &sendGridAddress{Email: s.cfg.ReplyTo}
	}

	body, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("marshal sendgrid mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// Следующая попытка перечитает ключ.
		s.creds.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sendgrid error: %d - %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"message_id": resp.Header.Get("X-Message-Id"),
	}).Info("confirmation email sent")
	return nil
}

// LogEmailSender пишет письмо в лог вместо отправки. Используется в dev-окружении.
type LogEmailSender struct {
	logger *log.Entry
}

// NewLogEmailSender создаёт лог-отправителя.
func NewLogEmailSender(logger *log.Entry) *LogEmailSender {
	if logger == nil {
		logger = log.WithField("component", "email-log")
	}
	return &LogEmailSender{logger: logger}
}

// SendOrderConfirmation логирует тему и получателя.
func (s *LogEmailSender) SendOrderConfirmation(_ context.Context, order domain.Order) error {
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"to":       order.CustomerEmail,
		"subject":  ConfirmationSubject(order),
	}).Info("confirmation email (log sink)")
	return nil
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	return strings.TrimSpace(string(data))
}

var (
	_ domain.EmailSender = (*SendGridSender)(nil)
	_ domain.EmailSender = (*LogEmailSender)(nil)
)
