package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// Статусы задания на уведомление в таблице outbox_messages.
const (
	taskPending = "pending"
	taskSent    = "sent"
	taskFailed  = "failed"

	defaultTaskBatch = 100
)

const taskColumns = `id, aggregate_type, aggregate_id, event_type, payload`

// Очередь заданий на уведомление. ID задания совпадает с ключом
// идемпотентности orderID:paymentID.
type taskQueue struct {
	db *sql.DB
}

// NewOutboxRepository возвращает очередь заданий поверх общей базы заказов.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &taskQueue{db: store.DB()}
}

func scanTask(row rowScanner) (domain.OutboxMessage, error) {
	var task domain.OutboxMessage
	err := row.Scan(&task.ID, &task.AggregateType, &task.AggregateID, &task.EventType, &task.Payload)
	return task, err
}

// Enqueue ставит задание в очередь. Повторное одобрение того же платежа,
// пока задание ждёт relay, возвращает уже сохранённое задание. Отработанное
// (sent или failed) задание снова становится pending со свежим payload:
// дубль отсечёт журнал доставок.
func (q *taskQueue) Enqueue(task domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (`+taskColumns+`, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    status = EXCLUDED.status,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE outbox_messages.status <> EXCLUDED.status
	`, task.ID, task.AggregateType, task.AggregateID, task.EventType, task.Payload, taskPending, now)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue notification task %s: %w", task.ID, err)
	}

	armed, err := res.RowsAffected()
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue notification task %s: %w", task.ID, err)
	}
	if armed == 0 {
		// Задание уже pending.
		return q.find(ctx, task.ID)
	}
	return task, nil
}

func (q *taskQueue) find(ctx context.Context, id string) (domain.OutboxMessage, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM outbox_messages WHERE id = $1`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.OutboxMessage{}, fmt.Errorf("%w: %s", domain.ErrOutboxTaskNotFound, id)
	case err != nil:
		return domain.OutboxMessage{}, fmt.Errorf("load notification task %s: %w", id, err)
	}
	return task, nil
}

// PullPending отдаёт ожидающие задания в порядке постановки.
func (q *taskQueue) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultTaskBatch
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, taskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending notification tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.OutboxMessage
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pending notification tasks: %w", err)
	}
	return tasks, nil
}

// Stats: размер backlog и возраст самого старого ожидающего задания.
func (q *taskQueue) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`,
		taskPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("count pending notification tasks: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (q *taskQueue) MarkSent(id string) error {
	return q.settle(id, taskSent)
}

func (q *taskQueue) MarkFailed(id string) error {
	return q.settle(id, taskFailed)
}

// settle снимает задание с очереди и считает попытку relay.
func (q *taskQueue) settle(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := q.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set notification task %s %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set notification task %s %s: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOutboxTaskNotFound, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*taskQueue)(nil)
