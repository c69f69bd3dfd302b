package domain

import (
	"strings"
	"time"
)

// InventoryRecord хранит остаток товара. Quantity может уйти в минус при гонке
// параллельных списаний: нижняя граница не проверяется.
type InventoryRecord struct {
	ProductID string    `json:"productId"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InventoryOperation задаёт вид изменения остатка.
type InventoryOperation string

const (
	InventoryOperationSet       InventoryOperation = "set"
	InventoryOperationIncrement InventoryOperation = "increment"
	InventoryOperationDecrement InventoryOperation = "decrement"
)

// InventoryAdjustment описывает относительное или абсолютное изменение остатка.
type InventoryAdjustment struct {
	Operation InventoryOperation
	Quantity  int64
}

// Validate проверяет операцию.
func (a InventoryAdjustment) Validate() error {
	switch a.Operation {
	case InventoryOperationSet, InventoryOperationIncrement, InventoryOperationDecrement:
		return nil
	default:
		return ErrInventoryOperationInvalid
	}
}

// IsAbsolute сообщает, что остаток выставляется, а не сдвигается.
func (a InventoryAdjustment) IsAbsolute() bool {
	return a.Operation == InventoryOperationSet
}

// Delta возвращает относительное изменение; для decrement всегда отрицательное.
func (a InventoryAdjustment) Delta() int64 {
	switch a.Operation {
	case InventoryOperationDecrement:
		if a.Quantity < 0 {
			return a.Quantity
		}
		return -a.Quantity
	case InventoryOperationIncrement:
		return a.Quantity
	default:
		return 0
	}
}

// Apply возвращает новый остаток после изменения.
func (a InventoryAdjustment) Apply(current int64) int64 {
	if a.IsAbsolute() {
		return a.Quantity
	}
	return current + a.Delta()
}

// ParseInventoryOperation нормализует строку операции.
func ParseInventoryOperation(raw string) InventoryOperation {
	return InventoryOperation(strings.ToLower(strings.TrimSpace(raw)))
}
