// Package boltdb хранит журнал доставки уведомлений во встраиваемой BoltDB.
// Журнал локален для процесса воркера и не требует внешней базы.
package boltdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

const deliveriesBucket = "notification_deliveries"

// DeliveryLedger: BoltDB-реализация domain.DeliveryLedger.
type DeliveryLedger struct {
	db *bolt.DB
}

// Open открывает (или создаёт) файл журнала и bucket доставок.
func Open(path string) (*DeliveryLedger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open delivery ledger %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(deliveriesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create deliveries bucket: %w", err)
	}

	return &DeliveryLedger{db: db}, nil
}

// Close освобождает файловую блокировку.
func (l *DeliveryLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Lookup возвращает запись по ключу идемпотентности.
func (l *DeliveryLedger) Lookup(key string) (domain.DeliveryRecord, bool, error) {
	var (
		record domain.DeliveryRecord
		found  bool
	)

	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(deliveriesBucket)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return domain.DeliveryRecord{}, false, fmt.Errorf("lookup delivery %s: %w", key, err)
	}

	return record, found, nil
}

// Record сохраняет запись, только если по ключу ещё ничего нет: первая доставка побеждает.
func (l *DeliveryLedger) Record(record domain.DeliveryRecord) error {
	if record.Key == "" {
		return errors.New("delivery record key is required")
	}
	if record.DeliveredAt.IsZero() {
		record.DeliveredAt = time.Now().UTC()
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(deliveriesBucket))
		if b.Get([]byte(record.Key)) != nil {
			return nil
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode delivery record: %w", err)
		}
		return b.Put([]byte(record.Key), data)
	})
}

var _ domain.DeliveryLedger = (*DeliveryLedger)(nil)
