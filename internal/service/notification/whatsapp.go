package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/telemetry"
)

const (
	// DefaultTwilioBaseURL: публичный API Twilio.
	DefaultTwilioBaseURL = "https://api.twilio.com"
	// DefaultTwilioFrom: sandbox-номер Twilio для WhatsApp.
	DefaultTwilioFrom = "whatsapp:+14155238886"
	// DefaultEvolutionInstance: имя инстанса Evolution API по умолчанию.
	DefaultEvolutionInstance = "sweetbar"
)

// ChatConfig описывает провайдеров WhatsApp. Twilio выбирается, если заданы
// AccountSID и AuthToken, иначе Evolution при заданных URL и ключе.
type ChatConfig struct {
	TwilioBaseURL    string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	EvolutionURL      string
	EvolutionAPIKey   string
	EvolutionInstance string
}

// NewChatSender выбирает провайдера по конфигурации. Если не настроен ни один,
// возвращает nil: диспетчер запишет ошибку канала.
func NewChatSender(cfg ChatConfig, httpClient *http.Client, logger *log.Entry) domain.ChatSender {
	if httpClient == nil {
		httpClient = telemetry.NewHTTPClient(defaultSenderTimeout)
	}
	if logger == nil {
		logger = log.WithField("component", "whatsapp")
	}

	switch {
	case cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "":
		return NewTwilioSender(cfg, httpClient, logger)
	case cfg.EvolutionURL != "" && cfg.EvolutionAPIKey != "":
		return NewEvolutionSender(cfg, httpClient, logger)
	default:
		logger.Warn("no whatsapp provider configured")
		return nil
	}
}

// TwilioSender отправляет сообщения через Twilio Messages API.
type TwilioSender struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
	logger     *log.Entry
}

// NewTwilioSender создаёт отправителя Twilio.
func NewTwilioSender(cfg ChatConfig, httpClient *http.Client, logger *log.Entry) *TwilioSender {
	baseURL := cfg.TwilioBaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultTwilioBaseURL
	}
	from := cfg.TwilioFrom
	if from == "" {
		from = DefaultTwilioFrom
	}
	return &TwilioSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: cfg.TwilioAccountSID,
		authToken:  cfg.TwilioAuthToken,
		from:       from,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SendOrderConfirmation отправляет подтверждение на телефон клиента.
func (s *TwilioSender) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	form := url.Values{
		"From": {s.from},
		"To":   {"whatsapp:+" + NormalizePhone(order.CustomerPhone)},
		"Body": {ConfirmationText(order)},
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("twilio error: %d - %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var payload struct {
		SID string `json:"sid"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	s.logger.WithFields(log.Fields{"order_id": order.ID, "sid": payload.SID}).Info("whatsapp sent via twilio")
	return nil
}

// EvolutionSender отправляет сообщения через Evolution API.
type EvolutionSender struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	logger     *log.Entry
}

// NewEvolutionSender создаёт отправителя Evolution API.
func NewEvolutionSender(cfg ChatConfig, httpClient *http.Client, logger *log.Entry) *EvolutionSender {
	instance := cfg.EvolutionInstance
	if instance == "" {
		instance = DefaultEvolutionInstance
	}
	return &EvolutionSender{
		baseURL:    strings.TrimRight(cfg.EvolutionURL, "/"),
		apiKey:     cfg.EvolutionAPIKey,
		instance:   instance,
		httpClient: httpClient,
		logger:     logger,
	}
}

type evolutionMessage struct {
	Number      string `json:"number"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"textMessage"`
}

// SendOrderConfirmation отправляет подтверждение на телефон клиента.
func (s *EvolutionSender) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	msg := evolutionMessage{Number: NormalizePhone(order.CustomerPhone)}
	msg.TextMessage.Text = ConfirmationText(order)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal evolution message: %w", err)
	}

	endpoint := s.baseURL + "/message/sendText/" + url.PathEscape(s.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build evolution request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evolution request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("evolution api error: %d - %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	s.logger.WithField("order_id", order.ID).Info("whatsapp sent via evolution api")
	return nil
}

var (
	_ domain.ChatSender = (*TwilioSender)(nil)
	_ domain.ChatSender = (*EvolutionSender)(nil)
)
