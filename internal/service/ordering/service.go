// Package ordering создаёт заказы и отдаёт их для чтения.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/metrics"
)

const (
	orderIDPrefix     = "order-"
	orderNumberPrefix = "SB"
	orderNumberDigits = 8

	// MinSearchTermLength: минимальная длина строки поиска заказов.
	MinSearchTermLength = 3
	defaultSearchLimit  = 100
)

// ErrSearchTermTooShort возвращается при слишком короткой строке поиска.
var ErrSearchTermTooShort = errors.New("search term must be at least 3 characters")

// CartItem: позиция корзины в том виде, в каком её присылает витрина.
// Цена и количество обязательны: nil означает, что поле не передано.
type CartItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	PriceValue *domain.Money `json:"priceValue"`
	Quantity   *int32        `json:"quantity"`
}

// CreateOrderRequest: корзина и снимок клиента для оформления заказа.
type CreateOrderRequest struct {
	Items             []CartItem              `json:"items"`
	CustomerName      string                  `json:"customerName"`
	CustomerEmail     string                  `json:"customerEmail"`
	CustomerPhone     string                  `json:"customerPhone"`
	CustomerCPF       string                  `json:"customerCPF"`
	ShippingAddress   *domain.ShippingAddress `json:"shippingAddress"`
	ShippingCost      *domain.Money           `json:"shippingCost"`
	DeliveryType      string                  `json:"deliveryType"`
	ScheduledDate     string                  `json:"scheduledDate"`
	TransactionID     string                  `json:"transactionId"`
	ExternalReference string                  `json:"externalReference"`
}

// Service реализует создание заказа с атомарным списанием остатков.
type Service struct {
	store   domain.OrderStore
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(store domain.OrderStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.WithField("component", "ordering"),
		now:    time.Now,
		newID:  func() string { return orderIDPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder валидирует корзину, считает итоги и одной транзакцией сохраняет заказ
// и уменьшает остатки. Цены берутся из запроса без сверки с каталогом.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordStepDuration("create_order", time.Since(start))
	}()

	order, err := s.buildOrder(req)
	if err != nil {
		s.metrics.RecordOrderFailed("validation")
		s.logger.WithError(err).WithField("customer_email", req.CustomerEmail).Warn("order rejected by validation")
		return domain.Order{}, err
	}

	created, err := s.store.CreateOrderWithInventoryDecrement(ctx, order)
	if err != nil {
		reason := "storage"
		if errors.Is(err, domain.ErrInventoryConstraint) || errors.Is(err, domain.ErrOrderAlreadyExists) {
			reason = "constraint"
		}
		s.metrics.RecordOrderFailed(reason)
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"order_number": created.OrderNumber,
		"items":        len(created.Items),
		"total":        created.Total.String(),
	}).Info("order created")

	return created, nil
}

func (s *Service) buildOrder(req CreateOrderRequest) (domain.Order, error) {
	var errs []error

	items := make([]domain.OrderItem, 0, len(req.Items))
	for i, in := range req.Items {
		if in.PriceValue == nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, domain.ErrItemPriceInvalid))
			continue
		}
		if in.Quantity == nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, domain.ErrItemQtyInvalid))
			continue
		}
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(in.ID),
			Name:      in.Name,
			UnitPrice: *in.PriceValue,
			Quantity:  *in.Quantity,
		})
	}
	if len(errs) > 0 {
		return domain.Order{}, domain.NewValidationError(errs)
	}

	now := s.now().UTC()
	id := s.newID()

	var shipping domain.Money
	if req.ShippingCost != nil {
		shipping = *req.ShippingCost
	}
	subtotal := domain.ComputeSubtotal(items)

	order := domain.Order{
		ID:                id,
		OrderNumber:       orderNumber(now),
		ExternalReference: strings.TrimSpace(req.ExternalReference),
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		CustomerCPF:       strings.TrimSpace(req.CustomerCPF),
		ShippingAddress:   req.ShippingAddress,
		Items:             items,
		Subtotal:          subtotal,
		ShippingCost:      shipping,
		Total:             subtotal + shipping,
		DeliveryType:      strings.TrimSpace(req.DeliveryType),
		ScheduledDate:     strings.TrimSpace(req.ScheduledDate),
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		TransactionID:     strings.TrimSpace(req.TransactionID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if order.ExternalReference == "" {
		order.ExternalReference = id
	}
	if order.DeliveryType == "" {
		order.DeliveryType = domain.DefaultDeliveryType
	}

	if err := domain.NewValidationError(order.ValidateInvariants()); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// orderNumber: "SB" + последние 8 цифр unix-миллисекунд. Номер косметический и
// может совпасть у двух заказов.
func orderNumber(t time.Time) string {
	ms := strconv.FormatInt(t.UnixMilli(), 10)
	if len(ms) > orderNumberDigits {
		ms = ms[len(ms)-orderNumberDigits:]
	}
	return orderNumberPrefix + ms
}

// GetOrder возвращает заказ по ID.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.store.GetOrder(ctx, strings.TrimSpace(id))
}

// SearchOrders ищет заказы по вхождению term в идентификаторы, новые первыми.
func (s *Service) SearchOrders(ctx context.Context, term string) ([]domain.Order, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < MinSearchTermLength {
		return nil, ErrSearchTermTooShort
	}
	return s.store.SearchOrders(ctx, term, defaultSearchLimit)
}

// GetInventory возвращает остаток товара.
func (s *Service) GetInventory(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	return s.store.GetInventory(ctx, strings.TrimSpace(productID))
}

// AdjustInventory применяет ручную корректировку остатка.
func (s *Service) AdjustInventory(ctx context.Context, productID string, adj domain.InventoryAdjustment) (domain.InventoryRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.InventoryRecord{}, domain.ErrItemProductRequired
	}
	if err := adj.Validate(); err != nil {
		return domain.InventoryRecord{}, err
	}

	record, err := s.store.AdjustInventory(ctx, productID, adj)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"operation":  adj.Operation,
		"quantity":   record.Quantity,
	}).Info("inventory adjusted")
	return record, nil
}
