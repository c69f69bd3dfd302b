package domain

import (
	"strings"
	"time"
)

// PaymentStatus повторяет словарь статусов платёжного провайдера.
// Неизвестные провайдеру значения сохраняются как есть.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusApproved    PaymentStatus = "approved"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusInProcess   PaymentStatus = "in_process"
	PaymentStatusInMediation PaymentStatus = "in_mediation"
	PaymentStatusRejected    PaymentStatus = "rejected"
	PaymentStatusCancelled   PaymentStatus = "cancelled"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusChargedBack PaymentStatus = "charged_back"
)

// IsApproved сообщает, что платёж достиг терминального успешного статуса.
func (s PaymentStatus) IsApproved() bool {
	return s == PaymentStatusApproved
}

// PaymentEvent: платёж, заново полученный у провайдера по ID.
// Не хранится отдельно: собирается на каждый вызов вебхука.
type PaymentEvent struct {
	PaymentID         string
	Status            PaymentStatus
	StatusDetail      string
	ExternalReference string
	PaymentMethodID   string
	TransactionAmount Money
	ApprovedAt        *time.Time
}

// HasExternalReference проверяет наличие ключа связи с заказом.
func (e PaymentEvent) HasExternalReference() bool {
	return strings.TrimSpace(e.ExternalReference) != ""
}

// MerchantOrderPayment: ссылка на платёж внутри merchant order.
type MerchantOrderPayment struct {
	ID     string
	Status PaymentStatus
}

// MerchantOrder группирует платежи одной покупки у провайдера.
type MerchantOrder struct {
	ID                string
	ExternalReference string
	Payments          []MerchantOrderPayment
}

// PaymentIDs возвращает идентификаторы платежей без пустых значений и дублей.
func (m MerchantOrder) PaymentIDs() []string {
	seen := make(map[string]struct{}, len(m.Payments))
	ids := make([]string, 0, len(m.Payments))
	for _, p := range m.Payments {
		if p.ID == "" {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}
	return ids
}
