package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	orderColumns = `
		id, order_number, external_reference, customer_name, customer_email,
		customer_phone, customer_cpf, shipping_address, subtotal_minor,
		shipping_cost_minor, total_minor, delivery_type, scheduled_date, status,
		payment_status, payment_status_detail, payment_id, transaction_id,
		payment_method, transaction_amount_minor, payment_approved_at,
		created_at, updated_at`
)

type orderStore struct {
	db *sql.DB
}

// NewOrderStore создаёт PostgreSQL-реализацию OrderStore.
func NewOrderStore(store *Store) domain.OrderStore {
	return &orderStore{db: store.DB()}
}

// CreateOrderWithInventoryDecrement вставляет заказ, позиции и ADD-списание остатков
// в одной транзакции. Запись остатка создаётся, если её не было.
func (r *orderStore) CreateOrderWithInventoryDecrement(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	address, err := marshalAddress(order.ShippingAddress)
	if err != nil {
		return domain.Order{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		order.ID, order.OrderNumber, order.ExternalReference, order.CustomerName, order.CustomerEmail,
		order.CustomerPhone, order.CustomerCPF, address, int64(order.Subtotal),
		int64(order.ShippingCost), int64(order.Total), order.DeliveryType, order.ScheduledDate, string(order.Status),
		string(order.PaymentStatus), order.PaymentStatusDetail, order.PaymentID, order.TransactionID,
		order.PaymentMethod, nullMoney(order.TransactionAmount), nullTime(order.PaymentApprovedAt),
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		err = mapConstraintError(err, "insert order")
		return domain.Order{}, err
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, name, unit_price_minor, quantity
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			order.ID, i, item.ProductID, item.Name, int64(item.UnitPrice), item.Quantity,
		); err != nil {
			err = mapConstraintError(err, "insert order item")
			return domain.Order{}, err
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO inventory (product_id, quantity, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id) DO UPDATE
			SET quantity = inventory.quantity + EXCLUDED.quantity,
			    updated_at = EXCLUDED.updated_at
		`,
			item.ProductID, -int64(item.Quantity), order.CreatedAt,
		); err != nil {
			err = mapConstraintError(err, "decrement inventory")
			return domain.Order{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = mapConstraintError(err, "commit create order")
		return domain.Order{}, err
	}

	return order.Clone(), nil
}

func (r *orderStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderStore) FindOrderIDByExternalReference(ctx context.Context, externalReference string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id
		FROM orders
		WHERE external_reference = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, externalReference).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrOrderNotFound
		}
		return "", fmt.Errorf("find order by external reference: %w", err)
	}
	return id, nil
}

func (r *orderStore) SearchOrders(ctx context.Context, term string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE strpos(transaction_id, $1) > 0
		   OR strpos(payment_id, $1) > 0
		   OR strpos(id, $1) > 0
		   OR strpos(order_number, $1) > 0
		   OR strpos(external_reference, $1) > 0
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", term, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, term)
	}
	if err != nil {
		return nil, fmt.Errorf("search orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// UpdateOrderFields собирает SET только из заданных полей патча.
// Версия не проверяется: последняя запись побеждает.
func (r *orderStore) UpdateOrderFields(ctx context.Context, id string, patch domain.OrderPatch) (domain.Order, error) {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}

	var (
		sets []string
		args []any
	)
	set := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Status != nil {
		set("status = $%d", string(*patch.Status))
	}
	if patch.PaymentStatus != nil {
		set("payment_status = $%d", string(*patch.PaymentStatus))
	}
	if patch.PaymentStatusDetail != nil {
		set("payment_status_detail = $%d", *patch.PaymentStatusDetail)
	}
	if patch.PaymentID != nil {
		set("payment_id = $%d", *patch.PaymentID)
	}
	if patch.TransactionID != nil {
		set("transaction_id = $%d", *patch.TransactionID)
	}
	if patch.PaymentMethod != nil {
		set("payment_method = $%d", *patch.PaymentMethod)
	}
	if patch.TransactionAmount != nil {
		set("transaction_amount_minor = $%d", int64(*patch.TransactionAmount))
	}
	if patch.PaymentApprovedAt != nil {
		set("payment_approved_at = COALESCE(payment_approved_at, $%d)", patch.PaymentApprovedAt.UTC())
	}
	set("updated_at = $%d", patch.UpdatedAt)

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(execCtx, query, args...)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return r.GetOrder(ctx, id)
}

func (r *orderStore) GetInventory(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var record domain.InventoryRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, updated_at
		FROM inventory
		WHERE product_id = $1
	`, productID).Scan(&record.ProductID, &record.Quantity, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrInventoryNotFound
		}
		return domain.InventoryRecord{}, fmt.Errorf("select inventory: %w", err)
	}
	return record, nil
}

func (r *orderStore) AdjustInventory(ctx context.Context, productID string, adj domain.InventoryAdjustment) (domain.InventoryRecord, error) {
	if err := adj.Validate(); err != nil {
		return domain.InventoryRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	onConflict := "quantity = inventory.quantity + EXCLUDED.quantity"
	value := adj.Delta()
	if adj.IsAbsolute() {
		onConflict = "quantity = EXCLUDED.quantity"
		value = adj.Quantity
	}

	var record domain.InventoryRecord
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO inventory (product_id, quantity, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id) DO UPDATE
		SET `+onConflict+`, updated_at = EXCLUDED.updated_at
		RETURNING product_id, quantity, updated_at
	`, productID, value, time.Now().UTC()).Scan(&record.ProductID, &record.Quantity, &record.UpdatedAt)
	if err != nil {
		return domain.InventoryRecord{}, mapConstraintError(err, "adjust inventory")
	}
	return record, nil
}

func (r *orderStore) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price_minor, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item  domain.OrderItem
			price int64
		)
		if err := rows.Scan(&item.ProductID, &item.Name, &price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.UnitPrice = domain.Money(price)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                         domain.Order
		status, paymentStatus         string
		address                       []byte
		subtotal, shippingCost, total int64
		transactionAmount             sql.NullInt64
		approvedAt                    sql.NullTime
	)

	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.ExternalReference, &order.CustomerName, &order.CustomerEmail,
		&order.CustomerPhone, &order.CustomerCPF, &address, &subtotal,
		&shippingCost, &total, &order.DeliveryType, &order.ScheduledDate, &status,
		&paymentStatus, &order.PaymentStatusDetail, &order.PaymentID, &order.TransactionID,
		&order.PaymentMethod, &transactionAmount, &approvedAt,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Subtotal = domain.Money(subtotal)
	order.ShippingCost = domain.Money(shippingCost)
	order.Total = domain.Money(total)
	if transactionAmount.Valid {
		amount := domain.Money(transactionAmount.Int64)
		order.TransactionAmount = &amount
	}
	if approvedAt.Valid {
		at := approvedAt.Time.UTC()
		order.PaymentApprovedAt = &at
	}
	if len(address) > 0 {
		var addr domain.ShippingAddress
		if err := json.Unmarshal(address, &addr); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
		order.ShippingAddress = &addr
	}

	return order, nil
}

func marshalAddress(addr *domain.ShippingAddress) (any, error) {
	if addr == nil {
		return nil, nil
	}
	raw, err := json.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("encode shipping address: %w", err)
	}
	return string(raw), nil
}

func nullMoney(m *domain.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*m), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// mapConstraintError переводит нарушения ограничений PostgreSQL в доменные ошибки.
func mapConstraintError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if pgErr.TableName == "orders" {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("%w: %s", domain.ErrInventoryConstraint, pgErr.ConstraintName)
		case pgCheckViolation:
			if pgErr.TableName == "inventory" {
				return fmt.Errorf("%w: %s", domain.ErrInventoryConstraint, pgErr.ConstraintName)
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ domain.OrderStore = (*orderStore)(nil)
