package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/telemetry"
)

const driverName = "pgx"

var errStoreClosed = errors.New("sweetbar database is not open")

// PoolConfig: параметры пула подключений к базе заказов.
type PoolConfig struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolConfig рассчитан на один процесс API и один notification-worker.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        20,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Option меняет PoolConfig при открытии.
type Option func(*PoolConfig)

// WithMaxConns ограничивает число открытых подключений. n <= 0 оставляет значение по умолчанию.
func WithMaxConns(n int) Option {
	return func(cfg *PoolConfig) {
		if n > 0 {
			cfg.MaxConns = n
		}
	}
}

// WithPingTimeout задаёт таймаут проверки доступности.
func WithPingTimeout(d time.Duration) Option {
	return func(cfg *PoolConfig) {
		if d > 0 {
			cfg.PingTimeout = d
		}
	}
}

// Store держит пул подключений, общий для заказов, склада и очереди уведомлений.
// DSN сохраняется для мигратора, которому нужно отдельное подключение.
type Store struct {
	db   *sql.DB
	dsn  string
	pool PoolConfig
}

// Open подключается к базе через трассируемый драйвер и ждёт ответа на ping.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := telemetry.OpenDB(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sweetbar database: %w", err)
	}
	// Простаивающих подключений не больше половины пула.
	db.SetMaxOpenConns(pool.MaxConns)
	db.SetMaxIdleConns(max(1, pool.MaxConns/2))
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db, dsn: dsn, pool: pool}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sweetbar database unreachable: %w", err)
	}
	return store, nil
}

// DB отдаёт пул репозиториям пакета.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется и при открытии, и health-чекером storage.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.pool.PingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
