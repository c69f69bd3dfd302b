package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/metrics"
)

// ErrInvalidTask означает, что задание нельзя обработать: в ключе нет заказа или платежа.
var ErrInvalidTask = errors.New("invalid notification task")

// Sender выполняет одну рассылку по заказу.
type Sender interface {
	Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error)
}

// TaskConsumer идемпотентно обрабатывает задания на уведомление.
// Доставка at-least-once: падение между отправкой и записью в журнал приведёт
// к повторной отправке, но не к потере уведомления.
type TaskConsumer struct {
	sender  Sender
	ledger  domain.DeliveryLedger
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics
	now     func() time.Time
}

// ConsumerOption настраивает TaskConsumer.
type ConsumerOption func(*TaskConsumer)

// WithConsumerLogger задаёт логгер.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *TaskConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConsumerMetrics включает метрики.
func WithConsumerMetrics(m *metrics.LifecycleMetrics) ConsumerOption {
	return func(c *TaskConsumer) {
		c.metrics = m
	}
}

// NewTaskConsumer создаёт потребителя заданий.
func NewTaskConsumer(sender Sender, ledger domain.DeliveryLedger, opts ...ConsumerOption) *TaskConsumer {
	c := &TaskConsumer{
		sender: sender,
		ledger: ledger,
		logger: log.WithField("component", "notification-consumer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle обрабатывает задание. nil означает, что задание можно подтвердить.
// Ошибка означает, что задание стоит доставить повторно.
func (c *TaskConsumer) Handle(ctx context.Context, task domain.NotificationTask) error {
	if strings.TrimSpace(task.OrderID) == "" || strings.TrimSpace(task.PaymentID) == "" {
		return fmt.Errorf("%w: order_id and payment_id are required", ErrInvalidTask)
	}

	key := task.IdempotencyKey()
	logger := c.logger.WithFields(log.Fields{
		"task_id":         task.ID,
		"order_id":        task.OrderID,
		"idempotency_key": key,
	})

	if record, ok, err := c.ledger.Lookup(key); err != nil {
		return fmt.Errorf("lookup delivery ledger: %w", err)
	} else if ok {
		logger.WithField("delivered_at", record.DeliveredAt).Info("notification already delivered, acknowledging duplicate")
		c.metrics.RecordDispatch(metrics.DispatchDuplicate)
		return nil
	}

	result, err := c.sender.Dispatch(ctx, task.OrderID)
	switch {
	case errors.Is(err, domain.ErrCustomerEmailRequired):
		// Повтор не поможет: фиксируем отказ, чтобы не отправлять задание в DLQ.
		logger.WithError(err).Error("notification rejected")
		result = domain.DispatchResult{OrderID: task.OrderID, Reason: err.Error()}
	case err != nil:
		return err
	case result.Skipped:
		// Не записываем: следующее одобрение того же платежа должно дойти до клиента.
		logger.WithField("payment_status", result.PaymentStatus).Info("notification skipped")
		return nil
	}

	if err := c.ledger.Record(domain.DeliveryRecord{
		Key:         key,
		TaskID:      task.ID,
		OrderID:     task.OrderID,
		Result:      result,
		DeliveredAt: c.now().UTC(),
	}); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// HandleMessage разбирает JSON-задание и обрабатывает его.
func (c *TaskConsumer) HandleMessage(ctx context.Context, payload []byte) error {
	task, err := DecodeTask(payload)
	if err != nil {
		return err
	}
	return c.Handle(ctx, task)
}

// DecodeTask разбирает задание из JSON.
func DecodeTask(payload []byte) (domain.NotificationTask, error) {
	var task domain.NotificationTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return domain.NotificationTask{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return task, nil
}

// IsPermanent сообщает, что повтор обработки не имеет смысла.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidTask)
}
