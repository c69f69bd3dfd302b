package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sweetbar-oms/internal/health"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/storage/boltdb"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/storage/memory"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/storage/postgres"
)

// runtimeDependencies: хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	store          domain.OrderStore
	outboxRepo     domain.OutboxRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store:      memory.NewOrderStore(),
			outboxRepo: memory.NewOutboxRepository(),
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
			closeFn: func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required when storage driver is postgres")
		}
		pg, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := pg.MigrateUp(ctx, 0); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			store:          postgres.NewOrderStore(pg),
			outboxRepo:     postgres.NewOutboxRepository(pg),
			storageChecker: healthcheck.NewSimpleChecker("storage", pg.Ping),
			closeFn:        pg.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// outboxBacklogChecker переводит сервис в degraded при растущем backlog outbox.
func outboxBacklogChecker(repo domain.OutboxRepository, threshold int) healthcheck.Checker {
	return healthcheck.NewBacklogChecker("outbox", threshold, func(context.Context) (int, error) {
		stats, err := repo.Stats()
		if err != nil {
			return 0, err
		}
		return stats.PendingCount, nil
	})
}

// ledgerCloser: журнал доставок с освобождаемыми ресурсами.
type ledgerCloser interface {
	domain.DeliveryLedger
	Close() error
}

type nopLedger struct {
	domain.DeliveryLedger
}

func (nopLedger) Close() error { return nil }

// openDeliveryLedger открывает bolt-журнал, если задан путь, иначе журнал в памяти.
// Журнал в памяти не переживает рестарт: повторная доставка после него
// может отправить уведомление ещё раз.
func openDeliveryLedger(path string, logger *log.Entry) (ledgerCloser, error) {
	if path == "" {
		logger.Warn("notification.ledger_path is empty, using in-memory delivery ledger")
		return nopLedger{memory.NewDeliveryLedger()}, nil
	}
	ledger, err := boltdb.Open(path)
	if err != nil {
		return nil, err
	}
	logger.WithField("path", path).Info("delivery ledger opened")
	return ledger, nil
}
