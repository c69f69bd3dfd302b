package domain

import (
	"context"
	"time"
)

// PaymentProcessor: клиент платёжного провайдера, источник истины по платежам.
type PaymentProcessor interface {
	// GetPayment заново получает платёж по ID.
	GetPayment(ctx context.Context, paymentID string) (PaymentEvent, error)
	// GetMerchantOrder получает merchant order со списком платежей.
	GetMerchantOrder(ctx context.Context, merchantOrderID string) (MerchantOrder, error)
}

// EmailSender отправляет письмо с подтверждением заказа.
type EmailSender interface {
	SendOrderConfirmation(ctx context.Context, order Order) error
}

// ChatSender отправляет подтверждение в мессенджер (WhatsApp).
type ChatSender interface {
	SendOrderConfirmation(ctx context.Context, order Order) error
}

// NotificationTrigger передаёт задание на уведомление асинхронно, вне текущего запроса.
type NotificationTrigger interface {
	Trigger(ctx context.Context, task NotificationTask) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы outbox-событий.
const (
	OutboxAggregateOrder           = "order"
	OutboxEventNotificationRequest = "notification.requested"
)
