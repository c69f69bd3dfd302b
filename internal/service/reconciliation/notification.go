package reconciliation

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// Family: семейство уведомления провайдера.
type Family string

const (
	FamilyUnknown       Family = ""
	FamilyPayment       Family = "payment"
	FamilyMerchantOrder Family = "merchant_order"
)

// Notification: уведомление вебхука в нормализованном виде. Статусы из тела
// уведомления намеренно не читаются.
type Notification struct {
	Type     string
	Action   string
	Topic    string
	Resource string
	DataID   string

	QueryID     string
	QueryDataID string
	QueryTopic  string
}

type notificationBody struct {
	Type     string          `json:"type"`
	Action   string          `json:"action"`
	Topic    string          `json:"topic"`
	Resource string          `json:"resource"`
	Data     json.RawMessage `json:"data"`
}

// ParseNotification разбирает тело и query-параметры вебхука. Пустое или
// нечитаемое тело не считается ошибкой: остаются query-параметры.
func ParseNotification(body []byte, query url.Values) (Notification, error) {
	n := Notification{
		QueryID:     strings.TrimSpace(query.Get("id")),
		QueryDataID: strings.TrimSpace(query.Get("data.id")),
		QueryTopic:  strings.TrimSpace(firstNonEmpty(query.Get("topic"), query.Get("type"))),
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return n, nil
	}

	var raw notificationBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return n, err
	}

	n.Type = strings.TrimSpace(raw.Type)
	n.Action = strings.TrimSpace(raw.Action)
	n.Topic = strings.TrimSpace(raw.Topic)
	n.Resource = strings.TrimSpace(raw.Resource)
	n.DataID = dataID(raw.Data)

	return n, nil
}

// dataID принимает data.id и числом, и строкой.
func dataID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var data struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &data); err != nil || len(data.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(data.ID, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(data.ID, &num); err == nil {
		return num.String()
	}
	return ""
}

// Family определяет семейство по type, topic или action.
func (n Notification) Family() Family {
	for _, v := range []string{n.Type, n.Topic, n.QueryTopic} {
		switch strings.ToLower(v) {
		case "payment":
			return FamilyPayment
		case "merchant_order", "topic_merchant_order_wh":
			return FamilyMerchantOrder
		}
	}

	action := strings.ToLower(n.Action)
	switch {
	case strings.HasPrefix(action, "payment."):
		return FamilyPayment
	case strings.HasPrefix(action, "merchant_order."):
		return FamilyMerchantOrder
	}
	return FamilyUnknown
}

// ResourceID возвращает идентификатор ресурса: data.id, затем resource
// (последний сегмент, если это URL), затем query id и query data.id.
func (n Notification) ResourceID() string {
	if n.DataID != "" {
		return n.DataID
	}
	if n.Resource != "" {
		return lastSegment(n.Resource)
	}
	if n.QueryID != "" {
		return n.QueryID
	}
	return n.QueryDataID
}

func lastSegment(resource string) string {
	if !strings.Contains(resource, "/") {
		return resource
	}
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		resource = u.Path
	}
	resource = strings.TrimRight(resource, "/")
	if idx := strings.LastIndex(resource, "/"); idx >= 0 {
		return resource[idx+1:]
	}
	return resource
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
