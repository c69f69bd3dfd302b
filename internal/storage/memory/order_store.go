package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// orderStoreInMemory: in-memory реализация OrderStore.
// Заказы и остатки живут под одним мьютексом, поэтому создание заказа
// со списанием остатков атомарно.
type orderStoreInMemory struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	byRef     map[string]string
	inventory map[string]domain.InventoryRecord
	now       func() time.Time
}

// NewOrderStore возвращает in-memory хранилище для локальной разработки и тестов.
func NewOrderStore() *orderStoreInMemory {
	return &orderStoreInMemory{
		orders:    make(map[string]domain.Order),
		byRef:     make(map[string]string),
		inventory: make(map[string]domain.InventoryRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderWithInventoryDecrement сохраняет заказ и списывает остатки одним шагом.
func (s *orderStoreInMemory) CreateOrderWithInventoryDecrement(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}

	now := s.now()
	for _, item := range order.Items {
		record := s.inventory[item.ProductID]
		record.ProductID = item.ProductID
		record.Quantity -= int64(item.Quantity)
		record.UpdatedAt = now
		s.inventory[item.ProductID] = record
	}

	stored := order.Clone()
	s.orders[order.ID] = stored
	if order.ExternalReference != "" {
		s.byRef[order.ExternalReference] = order.ID
	}
	return stored.Clone(), nil
}

// GetOrder возвращает заказ или ErrOrderNotFound.
func (s *orderStoreInMemory) GetOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (s *orderStoreInMemory) FindOrderIDByExternalReference(_ context.Context, externalReference string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[externalReference]
	if !ok {
		return "", domain.ErrOrderNotFound
	}
	return id, nil
}

// SearchOrders перебирает все заказы: хранилище рассчитано на разработку и тесты.
func (s *orderStoreInMemory) SearchOrders(_ context.Context, term string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term = strings.TrimSpace(term)
	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.MatchesSearch(term) {
			result = append(result, order.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateOrderFields перезаписывает платёжные поля без проверки версии.
func (s *orderStoreInMemory) UpdateOrderFields(_ context.Context, id string, patch domain.OrderPatch) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = s.now()
	}
	patch.Apply(&order)
	s.orders[id] = order
	return order.Clone(), nil
}

func (s *orderStoreInMemory) GetInventory(_ context.Context, productID string) (domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.inventory[productID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrInventoryNotFound
	}
	return record, nil
}

func (s *orderStoreInMemory) AdjustInventory(_ context.Context, productID string, adj domain.InventoryAdjustment) (domain.InventoryRecord, error) {
	if err := adj.Validate(); err != nil {
		return domain.InventoryRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.inventory[productID]
	record.ProductID = productID
	record.Quantity = adj.Apply(record.Quantity)
	record.UpdatedAt = s.now()
	s.inventory[productID] = record
	return record, nil
}

var _ domain.OrderStore = (*orderStoreInMemory)(nil)
