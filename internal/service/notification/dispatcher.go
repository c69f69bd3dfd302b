// Package notification отправляет клиенту подтверждение оплаченного заказа
// по email и WhatsApp.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/metrics"
)

// Dispatcher рассылает подтверждение по всем каналам. Каналы независимы:
// отказ одного не мешает другому и не выходит наружу как ошибка.
type Dispatcher struct {
	store   domain.OrderStore
	email   domain.EmailSender
	chat    domain.ChatSender
	retry   RetryConfig
	sleep   SleepFunc
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics
}

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.LifecycleMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithRetryConfig задаёт политику повторов.
func WithRetryConfig(cfg RetryConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = cfg.normalized()
	}
}

// WithSleep подменяет ожидание между попытками.
func WithSleep(sleep SleepFunc) DispatcherOption {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// NewDispatcher создаёт диспетчер. nil-отправитель означает, что канал не настроен.
func NewDispatcher(store domain.OrderStore, email domain.EmailSender, chat domain.ChatSender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		email:  email,
		chat:   chat,
		retry:  DefaultRetryConfig(),
		sleep:  sleepContext,
		logger: log.WithField("component", "notification-dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch загружает заказ и отправляет подтверждение. Ошибку возвращают только
// отсутствие заказа, отсутствие email клиента и сбой хранилища.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error) {
	logger := d.logger.WithField("order_id", orderID)

	order, err := d.store.GetOrder(ctx, orderID)
	if err != nil {
		logger.WithError(err).Error("failed to load order for notification")
		return domain.DispatchResult{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	if !order.PaymentStatus.IsApproved() {
		logger.WithField("payment_status", order.PaymentStatus).Info("payment not approved yet, skipping notification")
		d.metrics.RecordDispatch(metrics.DispatchSkipped)
		return domain.DispatchResult{
			OrderID:       order.ID,
			Skipped:       true,
			Reason:        domain.SkipReasonPaymentNotApproved,
			PaymentStatus: order.PaymentStatus,
		}, nil
	}

	if strings.TrimSpace(order.CustomerEmail) == "" {
		logger.Error("order has no customer email")
		d.metrics.RecordDispatch(metrics.DispatchRejected)
		return domain.DispatchResult{}, fmt.Errorf("order %s: %w", orderID, domain.ErrCustomerEmailRequired)
	}

	started := time.Now()
	d.metrics.RecordDispatchStarted()
	defer func() {
		d.metrics.RecordDispatchFinished(time.Since(started))
	}()

	result := domain.DispatchResult{OrderID: order.ID}

	if err := d.send(ctx, logger, domain.ChannelEmail, order, d.sendEmail); err != nil {
		result.Email.Fail(err)
	} else {
		result.Email.Sent = true
	}

	if strings.TrimSpace(order.CustomerPhone) != "" {
		if err := d.send(ctx, logger, domain.ChannelWhatsApp, order, d.sendChat); err != nil {
			result.WhatsApp.Fail(err)
		} else {
			result.WhatsApp.Sent = true
		}
	} else {
		logger.Info("no phone number, skipping whatsapp")
	}

	d.metrics.RecordDispatch(outcomeOf(result))
	logger.WithFields(log.Fields{
		"email_sent":    result.Email.Sent,
		"whatsapp_sent": result.WhatsApp.Sent,
	}).Info("order notification dispatched")
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, logger *log.Entry, channel domain.Channel, order domain.Order, fn func(context.Context, domain.Order) error) error {
	channelLogger := logger.WithField("channel", string(channel))
	return executeWithRetry(ctx, d.retry, d.sleep, channelLogger,
		func(ctx context.Context) error {
			return fn(ctx, order)
		},
		func(err error) {
			d.metrics.RecordChannelAttempt(string(channel), err == nil)
		},
	)
}

func (d *Dispatcher) sendEmail(ctx context.Context, order domain.Order) error {
	if d.email == nil {
		return fmt.Errorf("email %w", domain.ErrChannelNotConfigured)
	}
	return d.email.SendOrderConfirmation(ctx, order)
}

func (d *Dispatcher) sendChat(ctx context.Context, order domain.Order) error {
	if d.chat == nil {
		return fmt.Errorf("whatsapp %w", domain.ErrChannelNotConfigured)
	}
	return d.chat.SendOrderConfirmation(ctx, order)
}

func outcomeOf(result domain.DispatchResult) string {
	failed := result.Email.Error != nil || result.WhatsApp.Error != nil
	switch {
	case !failed:
		return metrics.DispatchSent
	case result.Email.Sent || result.WhatsApp.Sent:
		return metrics.DispatchPartial
	default:
		return metrics.DispatchFailed
	}
}
