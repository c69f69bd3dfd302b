package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// Topics для Kafka
const (
	TopicNotificationRequested = "sweetbar.notifications.requested"
	TopicDeadLetterQueue       = "sweetbar.notifications.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

var (
	// ErrMalformedMessage: сообщение не удалось разобрать. Повтор не поможет.
	ErrMalformedMessage = errors.New("malformed kafka message")
	// ErrUnexpectedEvent: в топике оказалось событие чужого типа.
	ErrUnexpectedEvent = errors.New("unexpected event type")
)

// Envelope: конверт outbox-сообщения в топике.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(event domain.OutboxMessage) Envelope {
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

// DeadLetter: сообщение, которое потребитель не смог обработать.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseEnvelope разбирает конверт из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return envelope, nil
}

// ParseNotificationTask достаёт задание на уведомление из конверта.
func ParseNotificationTask(message *sarama.ConsumerMessage) (domain.NotificationTask, error) {
	envelope, err := ParseEnvelope(message)
	if err != nil {
		return domain.NotificationTask{}, err
	}
	if envelope.EventType != domain.OutboxEventNotificationRequest {
		return domain.NotificationTask{}, fmt.Errorf("%w: %q", ErrUnexpectedEvent, envelope.EventType)
	}

	var task domain.NotificationTask
	if err := json.Unmarshal(envelope.Payload, &task); err != nil {
		return domain.NotificationTask{}, fmt.Errorf("%w: notification task: %v", ErrMalformedMessage, err)
	}
	return task, nil
}

func jsonMarshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// IsPermanent сообщает, что сообщение нет смысла обрабатывать повторно.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrUnexpectedEvent)
}
