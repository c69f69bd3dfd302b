package reconciliation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/reconciliation"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/storage/memory"
)

type fakeProcessor struct {
	payments       map[string]domain.PaymentEvent
	merchantOrders map[string]domain.MerchantOrder
	err            error
	calls          []string
}

func (p *fakeProcessor) GetPayment(_ context.Context, id string) (domain.PaymentEvent, error) {
	p.calls = append(p.calls, "payment:"+id)
	if p.err != nil {
		return domain.PaymentEvent{}, p.err
	}
	event, ok := p.payments[id]
	if !ok {
		return domain.PaymentEvent{}, domain.ErrPaymentNotFound
	}
	return event, nil
}

func (p *fakeProcessor) GetMerchantOrder(_ context.Context, id string) (domain.MerchantOrder, error) {
	p.calls = append(p.calls, "merchant_order:"+id)
	if p.err != nil {
		return domain.MerchantOrder{}, p.err
	}
	mo, ok := p.merchantOrders[id]
	if !ok {
		return domain.MerchantOrder{}, domain.ErrMerchantOrderNotFound
	}
	return mo, nil
}

type recordingTrigger struct {
	mu    sync.Mutex
	tasks []domain.NotificationTask
	err   error
}

func (r *recordingTrigger) Trigger(_ context.Context, task domain.NotificationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return r.err
}

var reconciledAt = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, store domain.OrderStore, id, ref string) domain.Order {
	t.Helper()
	items := []domain.OrderItem{{ProductID: "trufa", Name: "Trufa", UnitPrice: domain.MoneyFromDecimal(12.5), Quantity: 3}}
	subtotal := domain.ComputeSubtotal(items)
	now := reconciledAt.Add(-time.Hour)
	order := domain.Order{
		ID:                id,
		OrderNumber:       "SB00000001",
		ExternalReference: ref,
		CustomerName:      "Ana",
		CustomerEmail:     "ana@example.com",
		Items:             items,
		Subtotal:          subtotal,
		Total:             subtotal,
		DeliveryType:      domain.DefaultDeliveryType,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := store.CreateOrderWithInventoryDecrement(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func newService(processor domain.PaymentProcessor, store domain.OrderStore, trigger domain.NotificationTrigger) *reconciliation.Service {
	return reconciliation.NewService(processor, store, trigger,
		reconciliation.WithClock(func() time.Time { return reconciledAt }))
}

func paymentNotification(id string) reconciliation.Notification {
	return reconciliation.Notification{Type: "payment", DataID: id}
}

func TestHandle_ApprovedPaymentConfirmsOrder(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "order-1")

	approvedAt := time.Date(2026, 6, 1, 14, 59, 0, 0, time.UTC)
	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {
			PaymentID:         "pay-1",
			Status:            domain.PaymentStatusApproved,
			StatusDetail:      "accredited",
			ExternalReference: order.ExternalReference,
			PaymentMethodID:   "pix",
			TransactionAmount: domain.MoneyFromDecimal(37.5),
			ApprovedAt:        &approvedAt,
		},
	}}
	trigger := &recordingTrigger{}
	svc := newService(processor, store, trigger)

	result := svc.Handle(context.Background(), paymentNotification("pay-1"))
	if !result.Received || result.Error != "" || result.Warning != "" {
		t.Fatalf("unexpected result %+v", result)
	}

	got, err := store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusConfirmed || got.PaymentStatus != domain.PaymentStatusApproved {
		t.Fatalf("expected confirmed/approved, got %s/%s", got.Status, got.PaymentStatus)
	}
	if got.PaymentApprovedAt == nil || !got.PaymentApprovedAt.Equal(approvedAt) {
		t.Fatalf("expected paymentApprovedAt %v, got %v", approvedAt, got.PaymentApprovedAt)
	}
	if got.PaymentID != "pay-1" || got.TransactionID != "pay-1" || got.PaymentMethod != "pix" {
		t.Fatalf("unexpected payment fields %+v", got)
	}
	if got.TransactionAmount == nil || *got.TransactionAmount != domain.MoneyFromDecimal(37.5) {
		t.Fatalf("unexpected transaction amount %v", got.TransactionAmount)
	}
	if got.Total != domain.MoneyFromDecimal(37.5) {
		t.Fatalf("total must stay untouched, got %s", got.Total)
	}

	if len(trigger.tasks) != 1 {
		t.Fatalf("expected one notification request, got %d", len(trigger.tasks))
	}
	if trigger.tasks[0].OrderID != order.ID || trigger.tasks[0].PaymentID != "pay-1" {
		t.Fatalf("unexpected task %+v", trigger.tasks[0])
	}
}

func TestHandle_ApprovedTwiceIsIdempotent(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "order-1")

	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {PaymentID: "pay-1", Status: domain.PaymentStatusApproved, ExternalReference: order.ID, TransactionAmount: domain.MoneyFromDecimal(37.5)},
	}}
	trigger := &recordingTrigger{}
	svc := newService(processor, store, trigger)

	svc.Handle(context.Background(), paymentNotification("pay-1"))
	first, _ := store.GetOrder(context.Background(), order.ID)

	svc.Handle(context.Background(), paymentNotification("pay-1"))
	second, _ := store.GetOrder(context.Background(), order.ID)

	if first.Status != second.Status || first.PaymentStatus != second.PaymentStatus ||
		first.PaymentID != second.PaymentID || *first.TransactionAmount != *second.TransactionAmount ||
		!first.PaymentApprovedAt.Equal(*second.PaymentApprovedAt) || !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Fatalf("second approval changed state:\nfirst=%+v\nsecond=%+v", first, second)
	}

	// Оба запроса несут один ключ идемпотентности, дубль поглощает потребитель.
	if len(trigger.tasks) != 2 || trigger.tasks[0].IdempotencyKey() != trigger.tasks[1].IdempotencyKey() {
		t.Fatalf("expected two requests with the same key, got %+v", trigger.tasks)
	}
}

func TestHandle_ApprovalTimeKeptFromFirstApproval(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "order-1")

	first := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {PaymentID: "pay-1", Status: domain.PaymentStatusApproved, ExternalReference: order.ID, ApprovedAt: &first},
	}}
	svc := newService(processor, store, &recordingTrigger{})
	svc.Handle(context.Background(), paymentNotification("pay-1"))

	later := first.Add(time.Hour)
	processor.payments["pay-1"] = domain.PaymentEvent{PaymentID: "pay-1", Status: domain.PaymentStatusApproved, ExternalReference: order.ID, ApprovedAt: &later}
	svc.Handle(context.Background(), paymentNotification("pay-1"))

	got, _ := store.GetOrder(context.Background(), order.ID)
	if !got.PaymentApprovedAt.Equal(first) {
		t.Fatalf("expected first approval time kept, got %v", got.PaymentApprovedAt)
	}
}

func TestHandle_RejectedKeepsOrderPending(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "order-1")

	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-2": {PaymentID: "pay-2", Status: domain.PaymentStatusRejected, StatusDetail: "cc_rejected_other_reason", ExternalReference: order.ID},
	}}
	trigger := &recordingTrigger{}
	svc := newService(processor, store, trigger)

	result := svc.Handle(context.Background(), paymentNotification("pay-2"))
	if result.Error != "" {
		t.Fatalf("unexpected error %s", result.Error)
	}

	got, _ := store.GetOrder(context.Background(), order.ID)
	if got.Status != domain.OrderStatusPending || got.PaymentStatus != domain.PaymentStatusRejected {
		t.Fatalf("expected pending/rejected, got %s/%s", got.Status, got.PaymentStatus)
	}
	if got.PaymentApprovedAt != nil || got.PaymentMethod != "" {
		t.Fatal("approval-only fields must not be set for rejected payment")
	}
	if len(trigger.tasks) != 0 {
		t.Fatal("rejected payment must not request notification")
	}
}

func TestHandle_OlderEventOverwritesNewer(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "order-1")

	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {PaymentID: "pay-1", Status: domain.PaymentStatusApproved, ExternalReference: order.ID},
		"pay-0": {PaymentID: "pay-0", Status: domain.PaymentStatusPending, ExternalReference: order.ID},
	}}
	svc := newService(processor, store, &recordingTrigger{})

	svc.Handle(context.Background(), paymentNotification("pay-1"))
	svc.Handle(context.Background(), paymentNotification("pay-0"))

	got, _ := store.GetOrder(context.Background(), order.ID)
	if got.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unconditional overwrite expected, got %s", got.PaymentStatus)
	}
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("order status is only written on approval, got %s", got.Status)
	}
}

func TestHandle_ResolvesCustomExternalReference(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "checkout-abc")

	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {PaymentID: "pay-1", Status: domain.PaymentStatusInProcess, ExternalReference: "checkout-abc"},
	}}
	svc := newService(processor, store, &recordingTrigger{})

	result := svc.Handle(context.Background(), paymentNotification("pay-1"))
	if len(result.Processed) != 1 || result.Processed[0].OrderID != order.ID {
		t.Fatalf("expected order resolved via external reference, got %+v", result)
	}
	got, _ := store.GetOrder(context.Background(), order.ID)
	if got.PaymentStatus != domain.PaymentStatusInProcess {
		t.Fatalf("expected in_process, got %s", got.PaymentStatus)
	}
}

func TestHandle_UnknownOrderIsNotSynthesized(t *testing.T) {
	store := memory.NewOrderStore()
	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {PaymentID: "pay-1", Status: domain.PaymentStatusApproved, ExternalReference: "order-ghost"},
	}}
	trigger := &recordingTrigger{}
	svc := newService(processor, store, trigger)

	result := svc.Handle(context.Background(), paymentNotification("pay-1"))
	if !result.Received || result.Warning != reconciliation.WarningOrderNotFound {
		t.Fatalf("expected order-not-found warning, got %+v", result)
	}
	if _, err := store.GetOrder(context.Background(), "order-ghost"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatal("webhook must never create an order")
	}
	if len(trigger.tasks) != 0 {
		t.Fatal("no notification for a missing order")
	}
}

func TestHandle_MissingExternalReference(t *testing.T) {
	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {PaymentID: "pay-1", Status: domain.PaymentStatusApproved},
	}}
	svc := newService(processor, memory.NewOrderStore(), &recordingTrigger{})

	result := svc.Handle(context.Background(), paymentNotification("pay-1"))
	if !result.Received || result.Warning != reconciliation.WarningNoExternalReference {
		t.Fatalf("expected no-external-reference warning, got %+v", result)
	}
}

func TestHandle_NeverFailsClosed(t *testing.T) {
	cases := []struct {
		name         string
		notification reconciliation.Notification
		processor    *fakeProcessor
		wantWarning  string
		wantError    bool
	}{
		{
			name:         "unknown family",
			notification: reconciliation.Notification{Type: "subscription"},
			processor:    &fakeProcessor{},
			wantWarning:  reconciliation.WarningUnrecognizedEvent,
		},
		{
			name:         "payment without id",
			notification: reconciliation.Notification{Type: "payment"},
			processor:    &fakeProcessor{},
			wantWarning:  reconciliation.WarningNoPaymentID,
		},
		{
			name:         "merchant order without id",
			notification: reconciliation.Notification{Topic: "merchant_order"},
			processor:    &fakeProcessor{},
			wantWarning:  reconciliation.WarningNoMerchantOrderID,
		},
		{
			name:         "processor down",
			notification: paymentNotification("pay-1"),
			processor:    &fakeProcessor{err: domain.ErrProcessorUnavailable},
			wantError:    true,
		},
		{
			name:         "unknown payment",
			notification: paymentNotification("missing"),
			processor:    &fakeProcessor{payments: map[string]domain.PaymentEvent{}},
			wantError:    true,
		},
		{
			name:         "unknown merchant order",
			notification: reconciliation.Notification{Topic: "merchant_order", Resource: "123"},
			processor:    &fakeProcessor{merchantOrders: map[string]domain.MerchantOrder{}},
			wantError:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(tc.processor, memory.NewOrderStore(), &recordingTrigger{})
			result := svc.Handle(context.Background(), tc.notification)
			if !result.Received {
				t.Fatal("webhook must always be acknowledged")
			}
			if tc.wantWarning != "" && result.Warning != tc.wantWarning {
				t.Fatalf("expected warning %q, got %+v", tc.wantWarning, result)
			}
			if tc.wantError && result.Error == "" {
				t.Fatalf("expected error marker, got %+v", result)
			}
		})
	}
}

func TestHandle_MerchantOrderProcessesEachPayment(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "order-1")

	processor := &fakeProcessor{
		merchantOrders: map[string]domain.MerchantOrder{
			"mo-1": {ID: "mo-1", ExternalReference: order.ID, Payments: []domain.MerchantOrderPayment{
				{ID: "pay-rejected", Status: domain.PaymentStatusRejected},
				{ID: "pay-approved", Status: domain.PaymentStatusApproved},
			}},
		},
		payments: map[string]domain.PaymentEvent{
			"pay-rejected": {PaymentID: "pay-rejected", Status: domain.PaymentStatusRejected, ExternalReference: order.ID},
			"pay-approved": {PaymentID: "pay-approved", Status: domain.PaymentStatusApproved, ExternalReference: order.ID},
		},
	}
	trigger := &recordingTrigger{}
	svc := newService(processor, store, trigger)

	result := svc.Handle(context.Background(), reconciliation.Notification{Topic: "merchant_order", Resource: "https://api.mercadolibre.com/merchant_orders/mo-1"})
	if result.Error != "" || len(result.Processed) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	// Статусы всегда перечитываются по ID платежа.
	want := []string{"merchant_order:mo-1", "payment:pay-rejected", "payment:pay-approved"}
	if len(processor.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, processor.calls)
	}
	for i := range want {
		if processor.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, processor.calls)
		}
	}

	got, _ := store.GetOrder(context.Background(), order.ID)
	if got.Status != domain.OrderStatusConfirmed || got.PaymentID != "pay-approved" {
		t.Fatalf("expected confirmed via approved payment, got %+v", got)
	}
	if len(trigger.tasks) != 1 {
		t.Fatalf("expected one notification request, got %d", len(trigger.tasks))
	}
}

func TestHandle_TriggerFailureDoesNotFailReconciliation(t *testing.T) {
	store := memory.NewOrderStore()
	order := seedOrder(t, store, "order-1", "order-1")

	processor := &fakeProcessor{payments: map[string]domain.PaymentEvent{
		"pay-1": {PaymentID: "pay-1", Status: domain.PaymentStatusApproved, ExternalReference: order.ID},
	}}
	svc := newService(processor, store, &recordingTrigger{err: errors.New("queue down")})

	result := svc.Handle(context.Background(), paymentNotification("pay-1"))
	if result.Error != "" || result.Warning != "" {
		t.Fatalf("trigger failure must not surface, got %+v", result)
	}
	got, _ := store.GetOrder(context.Background(), order.ID)
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
}
