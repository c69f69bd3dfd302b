package domain

import "context"

// OrderStore описывает требования к хранилищу заказов и остатков.
type OrderStore interface {
	// CreateOrderWithInventoryDecrement атомарно сохраняет заказ и уменьшает остаток
	// по каждой позиции. При нарушении ограничения хранилища не меняется ничего.
	CreateOrderWithInventoryDecrement(ctx context.Context, order Order) (Order, error)
	// GetOrder возвращает заказ или ErrOrderNotFound.
	GetOrder(ctx context.Context, id string) (Order, error)
	// FindOrderIDByExternalReference ищет заказ по ключу связи с провайдером.
	FindOrderIDByExternalReference(ctx context.Context, externalReference string) (string, error)
	// SearchOrders ищет заказы по вхождению term в идентификаторы, новые первыми.
	SearchOrders(ctx context.Context, term string, limit int) ([]Order, error)
	// UpdateOrderFields безусловно перезаписывает платёжные поля. Заказ не создаётся,
	// если его нет: возвращается ErrOrderNotFound.
	UpdateOrderFields(ctx context.Context, id string, patch OrderPatch) (Order, error)
	// GetInventory возвращает остаток товара или ErrInventoryNotFound.
	GetInventory(ctx context.Context, productID string) (InventoryRecord, error)
	// AdjustInventory сдвигает или выставляет остаток, создавая запись при отсутствии.
	AdjustInventory(ctx context.Context, productID string, adj InventoryAdjustment) (InventoryRecord, error)
}

// DeliveryLedger хранит завершённые отправки уведомлений.
type DeliveryLedger interface {
	// Lookup возвращает запись по ключу идемпотентности, если она есть.
	Lookup(key string) (DeliveryRecord, bool, error)
	// Record фиксирует завершённую отправку.
	Record(record DeliveryRecord) error
}
