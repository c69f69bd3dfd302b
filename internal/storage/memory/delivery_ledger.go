package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// deliveryLedgerInMemory: журнал доставок без персистентности, для dev и тестов.
type deliveryLedgerInMemory struct {
	mu      sync.RWMutex
	records map[string]domain.DeliveryRecord
}

// NewDeliveryLedger создаёт in-memory журнал доставок.
func NewDeliveryLedger() *deliveryLedgerInMemory {
	return &deliveryLedgerInMemory{records: make(map[string]domain.DeliveryRecord)}
}

func (l *deliveryLedgerInMemory) Lookup(key string) (domain.DeliveryRecord, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.records[key]
	return record, ok, nil
}

func (l *deliveryLedgerInMemory) Record(record domain.DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[record.Key]; ok {
		return nil
	}
	if record.DeliveredAt.IsZero() {
		record.DeliveredAt = time.Now().UTC()
	}
	l.records[record.Key] = record
	return nil
}

var _ domain.DeliveryLedger = (*deliveryLedgerInMemory)(nil)
