package notification

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

var (
	localTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweetbar_notification_local_tasks_total",
		Help: "Notification tasks handled in-process grouped by result.",
	}, []string{"result"})
	localTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweetbar_notification_local_tasks_in_flight",
		Help: "Notification tasks currently handled in-process.",
	})
)

// MessageHandler обрабатывает сырое задание.
type MessageHandler interface {
	HandleMessage(ctx context.Context, payload []byte) error
}

// LocalPublisher: in-process замена брокера для режима без Kafka.
// Publish обрабатывает задание в горутине relay-воркера и возвращает ошибку
// обработки, поэтому outbox отмечает задание отправленным только после доставки.
// Задание, прерванное остановкой, остаётся pending.
type LocalPublisher struct {
	handler MessageHandler
	logger  *log.Entry
}

// NewLocalPublisher создаёт in-process публикатор поверх handler.
func NewLocalPublisher(handler MessageHandler, logger *log.Entry) *LocalPublisher {
	if logger == nil {
		logger = log.WithField("component", "notification-local")
	}
	return &LocalPublisher{handler: handler, logger: logger}
}

// Publish передаёт задание потребителю и ждёт результата.
func (p *LocalPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	localTasksInFlight.Inc()
	defer localTasksInFlight.Dec()

	logger := p.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
	})

	err := p.handler.HandleMessage(ctx, event.Payload)
	switch {
	case err == nil:
		localTasksTotal.WithLabelValues("handled").Inc()
		return nil
	case IsPermanent(err):
		localTasksTotal.WithLabelValues("rejected").Inc()
		logger.WithError(err).Error("invalid notification task")
		return fmt.Errorf("%w: %w", domain.ErrOutboxPublish, err)
	default:
		localTasksTotal.WithLabelValues("failed").Inc()
		logger.WithError(err).Warn("notification task failed")
		return err
	}
}

var _ domain.OutboxPublisher = (*LocalPublisher)(nil)
