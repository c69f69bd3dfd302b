package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// Trigger ставит задание на уведомление в outbox. ID сообщения совпадает
// с ключом идемпотентности задания: пока задание ждёт публикации, повторная
// сверка того же платежа его не дублирует. После публикации задание ставится
// снова, и уже потребитель решает по журналу доставок, нужна ли отправка.
type Trigger struct {
	repo   domain.OutboxRepository
	logger *log.Entry
}

// NewTrigger создаёт trigger поверх outbox-репозитория.
func NewTrigger(repo domain.OutboxRepository, logger *log.Entry) *Trigger {
	if logger == nil {
		logger = log.WithField("component", "notification-trigger")
	}
	return &Trigger{repo: repo, logger: logger}
}

// Trigger сохраняет задание. Публикацией занимается Worker.
func (t *Trigger) Trigger(ctx context.Context, task domain.NotificationTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal notification task: %w", err)
	}

	stored, err := t.repo.Enqueue(domain.OutboxMessage{
		ID:            task.IdempotencyKey(),
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   task.OrderID,
		EventType:     domain.OutboxEventNotificationRequest,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue notification task: %w", err)
	}

	t.logger.WithFields(log.Fields{
		"outbox_id": stored.ID,
		"order_id":  task.OrderID,
		"task_id":   task.ID,
	}).Debug("notification task enqueued")
	return nil
}

var _ domain.NotificationTrigger = (*Trigger)(nil)
