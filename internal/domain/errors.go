package domain

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidOrder: общий признак ошибки валидации заказа.
	ErrInvalidOrder = errors.New("invalid order")
	// Ошибка отсутствующего имени клиента.
	ErrCustomerNameRequired = errors.New("customerName is required")
	// Ошибка отсутствующего email клиента. Для диспетчера уведомлений: жёсткий отказ.
	ErrCustomerEmailRequired = errors.New("customerEmail is required")
	// Ошибка отсутствия хотя бы одной позиции в корзине.
	ErrItemsRequired = errors.New("items are required")
	// Ошибка позиции без идентификатора товара.
	ErrItemProductRequired = errors.New("item id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная или не передана.
	ErrItemPriceInvalid = errors.New("item priceValue must be a non-negative number")
	// Ошибка отрицательной стоимости доставки.
	ErrShippingCostNegative = errors.New("shippingCost must be non-negative")
	// Ошибка несоответствия итогов и суммы позиций.
	ErrAmountMismatch = errors.New("order totals do not match items sum")

	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrInventoryConstraint: транзакция создания заказа нарушила ограничение хранилища.
	ErrInventoryConstraint = errors.New("inventory constraint violation")
	// ErrInventoryNotFound: по товару нет записи остатка.
	ErrInventoryNotFound = errors.New("inventory record not found")
	// ErrInventoryOperationInvalid: неизвестная операция над остатком.
	ErrInventoryOperationInvalid = errors.New("inventory operation must be set, increment or decrement")

	// ErrPaymentNotFound: провайдер не знает такой платёж.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrMerchantOrderNotFound: провайдер не знает такой merchant order.
	ErrMerchantOrderNotFound = errors.New("merchant order not found")
	// ErrProcessorUnavailable: временная ошибка платёжного провайдера.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	// ErrProcessorUnauthorized: провайдер отверг учётные данные.
	ErrProcessorUnauthorized = errors.New("payment processor rejected credentials")
	// ErrCredentialsUnavailable: секрет не удалось получить.
	ErrCredentialsUnavailable = errors.New("credentials unavailable")

	// ErrChannelNotConfigured: для канала не настроен ни один провайдер.
	ErrChannelNotConfigured = errors.New("provider not configured")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxTaskNotFound: в очереди нет задания с таким ключом.
	ErrOutboxTaskNotFound = errors.New("notification task not found in outbox")
)

// ValidationError агрегирует нарушения инвариантов заказа.
type ValidationError struct {
	Errs []error
}

// NewValidationError возвращает nil, если замечаний нет.
func NewValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errs: errs}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap позволяет errors.Is находить как ErrInvalidOrder, так и конкретную причину.
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrInvalidOrder}, e.Errs...)
}

// IsValidation проверяет, что ошибка относится к валидации входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidOrder)
}
