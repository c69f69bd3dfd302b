// Package outbox доставляет задания на уведомление из transactional outbox
// в брокер. Сверка платежей только ставит задание, рассылка идёт отдельно.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// maxRelayDelay ограничивает паузу между попытками передачи одного задания.
const maxRelayDelay = 30 * time.Second

var (
	tasksRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweetbar_notification_tasks_relayed_total",
		Help: "Notification task handoffs from the outbox grouped by result.",
	}, []string{"result"})
	tasksPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweetbar_notification_tasks_pending",
		Help: "Notification tasks waiting in the outbox.",
	})
	oldestTaskAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweetbar_notification_oldest_task_age_seconds",
		Help: "Age of the oldest notification task waiting in the outbox.",
	})
)

type relayConfig struct {
	logger      *log.Entry
	deadLetters domain.OutboxPublisher
	every       time.Duration
	batch       int
	attempts    int
	baseDelay   time.Duration
}

// Option настраивает Worker.
type Option func(*relayConfig)

func WithLogger(logger *log.Entry) Option {
	return func(c *relayConfig) { c.logger = logger }
}

// WithDLQPublisher: куда уходит задание, которое не удалось передать за все попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *relayConfig) { c.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *relayConfig) { c.every = interval }
}

func WithBatchSize(size int) Option {
	return func(c *relayConfig) { c.batch = size }
}

// WithMaxAttempts: сколько раз передавать задание, прежде чем пометить его failed.
func WithMaxAttempts(attempts int) Option {
	return func(c *relayConfig) { c.attempts = attempts }
}

// WithRetryBaseDelay: пауза после первой неудачи, дальше она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *relayConfig) { c.baseDelay = delay }
}

// Worker передаёт ожидающие задания на уведомление публикатору: Kafka или
// in-process потребителю. Задание помечается sent только после успешной передачи.
type Worker struct {
	queue     domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       relayConfig
}

func NewWorker(queue domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := relayConfig{
		every:     time.Second,
		batch:     100,
		attempts:  3,
		baseDelay: 50 * time.Millisecond,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "notification-relay")
	}
	if cfg.every <= 0 {
		cfg.every = time.Second
	}
	if cfg.batch <= 0 {
		cfg.batch = 100
	}
	if cfg.attempts <= 0 {
		cfg.attempts = 3
	}
	if cfg.baseDelay < 0 {
		cfg.baseDelay = 0
	}
	return &Worker{queue: queue, publisher: publisher, cfg: cfg}
}

// Run передаёт задания каждые PollInterval, пока не отменён ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.queue == nil || w.publisher == nil {
		w.cfg.logger.Warn("notification relay not started: no task queue or publisher")
		return
	}

	ticker := time.NewTicker(w.cfg.every)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce берёт одну порцию ожидающих заданий и передаёт их по очереди.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.observeBacklog()
	defer w.observeBacklog()

	tasks, err := w.queue.PullPending(w.cfg.batch)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("cannot read pending notification tasks")
		return
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		w.relay(ctx, task)
	}
}

func (w *Worker) relay(ctx context.Context, task domain.OutboxMessage) {
	logger := w.cfg.logger.WithFields(log.Fields{
		"task_id":  task.ID,
		"order_id": task.AggregateID,
	})

	err := w.handOff(ctx, task)
	switch {
	case err == nil:
		tasksRelayed.WithLabelValues("sent").Inc()
		if markErr := w.queue.MarkSent(task.ID); markErr != nil {
			// Задание передадут ещё раз, повтор отсечёт журнал доставок.
			logger.WithError(markErr).Warn("notification task handed off but not marked sent")
		}
		return
	case ctx.Err() != nil:
		// Задание остаётся pending до следующего запуска.
		logger.Info("notification relay stopped mid-task")
		return
	}

	tasksRelayed.WithLabelValues("failed").Inc()
	logger.WithError(err).Error("notification task not handed off")

	if dlqErr := w.deadLetter(ctx, task, err); dlqErr != nil {
		tasksRelayed.WithLabelValues("dlq_failed").Inc()
		logger.WithError(dlqErr).Warn("notification task not written to dead letters")
	}
	if markErr := w.queue.MarkFailed(task.ID); markErr != nil {
		logger.WithError(markErr).Warn("notification task not marked failed")
	}
}

// handOff делает до attempts попыток с удвоением паузы между ними.
func (w *Worker) handOff(ctx context.Context, task domain.OutboxMessage) error {
	var err error
	delay := w.cfg.baseDelay
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, task); err == nil {
			return nil
		}
		if attempt == w.cfg.attempts {
			return fmt.Errorf("task %s: %d attempts: %w", task.ID, attempt, err)
		}
		tasksRelayed.WithLabelValues("retry").Inc()
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(2*delay, maxRelayDelay)
	}
}

func (w *Worker) observeBacklog() {
	stats, err := w.queue.Stats()
	if err != nil {
		w.cfg.logger.WithError(err).Warn("cannot read notification backlog")
		return
	}
	tasksPending.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestTaskAge.Set(0)
		return
	}
	oldestTaskAge.Set(max(0, time.Since(stats.OldestPendingAt).Seconds()))
}

// DeadLetter: конверт задания в DLQ. Payload хранит исходное задание как есть,
// чтобы его можно было переиграть.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) deadLetter(ctx context.Context, task domain.OutboxMessage, cause error) error {
	if w.cfg.deadLetters == nil {
		return nil
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:       task.ID,
		AggregateType:  task.AggregateType,
		AggregateID:    task.AggregateID,
		EventType:      task.EventType,
		Payload:        json.RawMessage(task.Payload),
		PublishError:   cause.Error(),
		DLQPublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	letter := task
	letter.Payload = body
	return w.cfg.deadLetters.Publish(ctx, letter)
}
