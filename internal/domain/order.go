package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает статус исполнения заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed: платёж одобрен, заказ принят в работу.
	OrderStatusConfirmed OrderStatus = "confirmed"
)

// DefaultDeliveryType используется, если витрина не передала тип доставки.
const DefaultDeliveryType = "express"

// OrderItem представляет одну позицию корзины.
type OrderItem struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"priceValue"`
	Quantity  int32  `json:"quantity"`
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// ShippingAddress: снимок адреса доставки на момент оформления.
type ShippingAddress struct {
	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zipCode,omitempty"`
}

// Order агрегирует заказ: неизменяемый снимок корзины и клиента плюс платёжные поля,
// которые меняет только сверка платежей.
type Order struct {
	ID                string           `json:"orderId"`
	OrderNumber       string           `json:"orderNumber"`
	ExternalReference string           `json:"externalReference"`
	CustomerName      string           `json:"customerName"`
	CustomerEmail     string           `json:"customerEmail"`
	CustomerPhone     string           `json:"customerPhone,omitempty"`
	CustomerCPF       string           `json:"customerCPF,omitempty"`
	ShippingAddress   *ShippingAddress `json:"shippingAddress,omitempty"`
	Items             []OrderItem      `json:"items"`
	Subtotal          Money            `json:"subtotal"`
	ShippingCost      Money            `json:"shippingCost"`
	Total             Money            `json:"total"`
	DeliveryType      string           `json:"deliveryType"`
	ScheduledDate     string           `json:"scheduledDate,omitempty"`

	Status              OrderStatus   `json:"status"`
	PaymentStatus       PaymentStatus `json:"paymentStatus"`
	PaymentStatusDetail string        `json:"paymentStatusDetail,omitempty"`
	PaymentID           string        `json:"paymentId,omitempty"`
	TransactionID       string        `json:"transactionId,omitempty"`
	PaymentMethod       string        `json:"paymentMethod,omitempty"`
	TransactionAmount   *Money        `json:"transactionAmount,omitempty"`
	PaymentApprovedAt   *time.Time    `json:"paymentApprovedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ComputeSubtotal суммирует стоимость позиций.
func ComputeSubtotal(items []OrderItem) Money {
	var subtotal Money
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	return subtotal
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.CustomerName) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if strings.TrimSpace(o.CustomerEmail) == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if o.ShippingCost < 0 {
		errs = append(errs, ErrShippingCostNegative)
	}

	// Итоги считаются один раз при создании и больше не пересчитываются.
	if ComputeSubtotal(o.Items) != o.Subtotal || o.Subtotal+o.ShippingCost != o.Total {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает копию заказа без общих ссылок на срезы и указатели.
func (o Order) Clone() Order {
	clone := o
	if o.Items != nil {
		clone.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		clone.ShippingAddress = &addr
	}
	if o.TransactionAmount != nil {
		amount := *o.TransactionAmount
		clone.TransactionAmount = &amount
	}
	if o.PaymentApprovedAt != nil {
		at := *o.PaymentApprovedAt
		clone.PaymentApprovedAt = &at
	}
	return clone
}

// DisplayNumber возвращает номер для клиента: orderNumber или первые 8 символов ID.
func (o Order) DisplayNumber() string {
	if o.OrderNumber != "" {
		return o.OrderNumber
	}
	id := o.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

// OrderPatch перечисляет поля, которые разрешено менять после создания.
// nil означает "не трогать". Перезапись безусловная, без проверки версии.
type OrderPatch struct {
	Status              *OrderStatus
	PaymentStatus       *PaymentStatus
	PaymentStatusDetail *string
	PaymentID           *string
	TransactionID       *string
	PaymentMethod       *string
	TransactionAmount   *Money
	// PaymentApprovedAt применяется, только если у заказа он ещё не выставлен.
	PaymentApprovedAt *time.Time
	UpdatedAt         time.Time
}

// IsEmpty сообщает, что патч не меняет ни одного платёжного поля.
func (p OrderPatch) IsEmpty() bool {
	return p.Status == nil && p.PaymentStatus == nil && p.PaymentStatusDetail == nil &&
		p.PaymentID == nil && p.TransactionID == nil && p.PaymentMethod == nil &&
		p.TransactionAmount == nil && p.PaymentApprovedAt == nil
}

// Apply применяет патч к заказу на месте.
func (p OrderPatch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentStatusDetail != nil {
		o.PaymentStatusDetail = *p.PaymentStatusDetail
	}
	if p.PaymentID != nil {
		o.PaymentID = *p.PaymentID
	}
	if p.TransactionID != nil {
		o.TransactionID = *p.TransactionID
	}
	if p.PaymentMethod != nil {
		o.PaymentMethod = *p.PaymentMethod
	}
	if p.TransactionAmount != nil {
		amount := *p.TransactionAmount
		o.TransactionAmount = &amount
	}
	if p.PaymentApprovedAt != nil && o.PaymentApprovedAt == nil {
		at := *p.PaymentApprovedAt
		o.PaymentApprovedAt = &at
	}
	if !p.UpdatedAt.IsZero() {
		o.UpdatedAt = p.UpdatedAt
	}
}

// MatchesSearch проверяет вхождение term в идентификаторы заказа.
func (o Order) MatchesSearch(term string) bool {
	for _, field := range []string{o.TransactionID, o.PaymentID, o.ID, o.OrderNumber, o.ExternalReference} {
		if field != "" && strings.Contains(field, term) {
			return true
		}
	}
	return false
}
