package domain

import "time"

// NotificationTask: задание на отправку подтверждения по оплаченному заказу.
// Доставляется at-least-once, поэтому потребитель обязан быть идемпотентным.
type NotificationTask struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	PaymentID   string    `json:"payment_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// IdempotencyKey идентифицирует одну отправку: на одну одобренную оплату приходится одно уведомление.
func (t NotificationTask) IdempotencyKey() string {
	return t.OrderID + ":" + t.PaymentID
}

// Channel: канал доставки уведомления.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// ChannelResult фиксирует итог одного канала.
type ChannelResult struct {
	Sent  bool    `json:"sent"`
	Error *string `json:"error"`
}

// Fail записывает ошибку канала.
func (r *ChannelResult) Fail(err error) {
	msg := err.Error()
	r.Sent = false
	r.Error = &msg
}

// DispatchResult: результат одного вызова диспетчера.
type DispatchResult struct {
	OrderID       string        `json:"orderId"`
	Skipped       bool          `json:"skipped,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`
	Email         ChannelResult `json:"email"`
	WhatsApp      ChannelResult `json:"whatsapp"`
}

// SkipReasonPaymentNotApproved: причина пропуска, если оплата ещё не одобрена.
const SkipReasonPaymentNotApproved = "Payment not approved"

// DeliveryRecord: запись журнала доставки для идемпотентного потребления.
type DeliveryRecord struct {
	Key         string         `json:"key"`
	TaskID      string         `json:"task_id"`
	OrderID     string         `json:"order_id"`
	Result      DispatchResult `json:"result"`
	DeliveredAt time.Time      `json:"delivered_at"`
}
