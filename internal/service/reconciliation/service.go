// Package reconciliation применяет уведомления платёжного провайдера к заказам.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/metrics"
)

// Предупреждения в ответе вебхука.
const (
	WarningUnrecognizedEvent    = "Unrecognized event"
	WarningNoPaymentID          = "No payment ID"
	WarningNoMerchantOrderID    = "No merchant order ID"
	WarningNoExternalReference  = "No external_reference"
	WarningOrderNotFound        = "Order not found"
	WarningMerchantOrderPending = "Merchant order has no payments"
)

// Result описывает тело ответа вебхука. Received всегда true: провайдер не должен
// повторять доставку из-за наших внутренних ошибок.
type Result struct {
	Received  bool               `json:"received"`
	Warning   string             `json:"warning,omitempty"`
	Error     string             `json:"error,omitempty"`
	Processed []ProcessedPayment `json:"processed,omitempty"`
}

// ProcessedPayment описывает обработку одного платежа.
type ProcessedPayment struct {
	PaymentID string               `json:"paymentId"`
	OrderID   string               `json:"orderId,omitempty"`
	Status    domain.PaymentStatus `json:"status,omitempty"`
	Warning   string               `json:"warning,omitempty"`
}

// Service сверяет платежи с заказами.
type Service struct {
	processor domain.PaymentProcessor
	store     domain.OrderStore
	trigger   domain.NotificationTrigger
	logger    *log.Entry
	metrics   *metrics.LifecycleMetrics
	now       func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис сверки.
func NewService(processor domain.PaymentProcessor, store domain.OrderStore, trigger domain.NotificationTrigger, opts ...Option) *Service {
	s := &Service{
		processor: processor,
		store:     store,
		trigger:   trigger,
		logger:    log.WithField("component", "reconciliation"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle обрабатывает одно уведомление. Ошибки не возвращаются: они попадают
// в Result и в лог.
func (s *Service) Handle(ctx context.Context, n Notification) Result {
	family := n.Family()
	id := n.ResourceID()
	logger := s.logger.WithFields(log.Fields{
		"family":      string(family),
		"resource_id": id,
		"action":      n.Action,
	})

	switch family {
	case FamilyPayment:
		if id == "" {
			logger.Warn("no payment ID found in webhook")
			s.metrics.RecordWebhookEvent(string(family), metrics.OutcomeWarning)
			return Result{Received: true, Warning: WarningNoPaymentID}
		}
		return s.finish(logger, family, s.handlePayments(ctx, []string{id}))

	case FamilyMerchantOrder:
		if id == "" {
			logger.Warn("no merchant order ID found in webhook")
			s.metrics.RecordWebhookEvent(string(family), metrics.OutcomeWarning)
			return Result{Received: true, Warning: WarningNoMerchantOrderID}
		}
		mo, err := s.processor.GetMerchantOrder(ctx, id)
		if err != nil {
			logger.WithError(err).Error("failed to fetch merchant order")
			s.metrics.RecordWebhookEvent(string(family), metrics.OutcomeError)
			return Result{Received: true, Error: err.Error()}
		}
		paymentIDs := mo.PaymentIDs()
		if len(paymentIDs) == 0 {
			logger.Info("merchant order has no payments yet")
			s.metrics.RecordWebhookEvent(string(family), metrics.OutcomeIgnored)
			return Result{Received: true, Warning: WarningMerchantOrderPending}
		}
		return s.finish(logger, family, s.handlePayments(ctx, paymentIDs))

	default:
		logger.WithFields(log.Fields{"type": n.Type, "topic": n.Topic}).Info("ignoring unrecognized webhook event")
		s.metrics.RecordWebhookEvent(string(family), metrics.OutcomeIgnored)
		return Result{Received: true, Warning: WarningUnrecognizedEvent}
	}
}

func (s *Service) finish(logger *log.Entry, family Family, result Result) Result {
	outcome := metrics.OutcomeProcessed
	switch {
	case result.Error != "":
		outcome = metrics.OutcomeError
	case result.Warning != "":
		outcome = metrics.OutcomeWarning
	}
	s.metrics.RecordWebhookEvent(string(family), outcome)
	logger.WithField("outcome", outcome).Debug("webhook handled")
	return result
}

// handlePayments обрабатывает платежи по очереди. Ошибка одного платежа не
// останавливает остальные.
func (s *Service) handlePayments(ctx context.Context, paymentIDs []string) Result {
	result := Result{Received: true}

	var errs []string
	for _, paymentID := range paymentIDs {
		processed, err := s.ProcessPayment(ctx, paymentID)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		result.Processed = append(result.Processed, processed)
	}

	if len(errs) > 0 {
		result.Error = strings.Join(errs, "; ")
	}
	if len(paymentIDs) == 1 && len(result.Processed) == 1 {
		result.Warning = result.Processed[0].Warning
	}
	return result
}

// ProcessPayment перечитывает платёж у провайдера и переносит его статус в заказ.
func (s *Service) ProcessPayment(ctx context.Context, paymentID string) (ProcessedPayment, error) {
	logger := s.logger.WithField("payment_id", paymentID)
	processed := ProcessedPayment{PaymentID: paymentID}

	event, err := s.processor.GetPayment(ctx, paymentID)
	if err != nil {
		logger.WithError(err).Error("failed to fetch payment from processor")
		return processed, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	if event.PaymentID == "" {
		event.PaymentID = paymentID
	}
	processed.Status = event.Status

	if !event.HasExternalReference() {
		logger.WithField("status", event.Status).Warn("no external_reference found in payment")
		processed.Warning = WarningNoExternalReference
		return processed, nil
	}

	orderID := s.resolveOrderID(ctx, logger, strings.TrimSpace(event.ExternalReference))
	processed.OrderID = orderID
	logger = logger.WithField("order_id", orderID)

	updated, err := s.store.UpdateOrderFields(ctx, orderID, s.patchFor(event))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("status update skipped: order does not exist")
			processed.Warning = WarningOrderNotFound
			return processed, nil
		}
		logger.WithError(err).Error("failed to update order payment fields")
		return processed, fmt.Errorf("update order %s: %w", orderID, err)
	}

	s.metrics.RecordPaymentStatus(string(event.Status))
	logger.WithFields(log.Fields{
		"status":        event.Status,
		"status_detail": event.StatusDetail,
		"order_status":  updated.Status,
	}).Info("payment status applied")

	if event.Status.IsApproved() {
		s.requestNotification(ctx, logger, updated.ID, event.PaymentID)
	}

	return processed, nil
}

// resolveOrderID сначала считает externalReference идентификатором заказа, затем
// ищет заказ по ссылке. Если заказа нет, возвращается сама ссылка: обновление
// всё равно пробуется, но заказ не создаётся.
func (s *Service) resolveOrderID(ctx context.Context, logger *log.Entry, ref string) string {
	_, err := s.store.GetOrder(ctx, ref)
	if err == nil {
		return ref
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		logger.WithError(err).Warn("order lookup failed, continuing with external reference")
		return ref
	}

	id, err := s.store.FindOrderIDByExternalReference(ctx, ref)
	if err == nil && id != "" {
		return id
	}
	logger.WithField("external_reference", ref).Warn("order not found for payment, attempting status-only update")
	return ref
}

// patchFor всегда переписывает платёжные поля. Для approved дополнительно
// подтверждает заказ. Старое событие может перезаписать более новое.
func (s *Service) patchFor(event domain.PaymentEvent) domain.OrderPatch {
	now := s.now().UTC()
	status := event.Status
	detail := event.StatusDetail
	paymentID := event.PaymentID
	transactionID := event.PaymentID

	patch := domain.OrderPatch{
		PaymentStatus:       &status,
		PaymentStatusDetail: &detail,
		PaymentID:           &paymentID,
		TransactionID:       &transactionID,
		UpdatedAt:           now,
	}

	if status.IsApproved() {
		confirmed := domain.OrderStatusConfirmed
		method := event.PaymentMethodID
		amount := event.TransactionAmount
		approvedAt := now
		if event.ApprovedAt != nil {
			approvedAt = event.ApprovedAt.UTC()
		}
		patch.Status = &confirmed
		patch.PaymentMethod = &method
		patch.TransactionAmount = &amount
		patch.PaymentApprovedAt = &approvedAt
	}

	return patch
}

// requestNotification ставит задание на уведомление. Ошибка постановки не влияет
// на результат сверки.
func (s *Service) requestNotification(ctx context.Context, logger *log.Entry, orderID, paymentID string) {
	if s.trigger == nil {
		logger.Warn("notification trigger is not configured")
		return
	}

	task := domain.NotificationTask{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		PaymentID:   paymentID,
		RequestedAt: s.now().UTC(),
	}
	if err := s.trigger.Trigger(ctx, task); err != nil {
		logger.WithError(err).Error("failed to request order notification")
		return
	}
	logger.WithField("task_id", task.ID).Info("order notification requested")
}
