package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	orderColumns = `
		id, version, client_name, client_phone, order_type, table_number, notes,
		scheduled_at, delivery_address, delivery_address_id, delivery_fee_minor,
		discount_minor, items, payment, status, total_minor, created_by,
		created_at, updated_at, finalized_at`
)

type orderStore struct {
	db  *sql.DB
	now func() time.Time
}

// OrderStore: PostgreSQL хранилище заказов со списком.
type OrderStore interface {
	domain.OrderStore
	domain.OrderLister
}

// NewOrderStore создаёт PostgreSQL-реализацию OrderStore.
func NewOrderStore(store *Store) OrderStore {
	return &orderStore{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *orderStore) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	prepared, err := domain.PrepareNew(order, r.now())
	if err != nil {
		return domain.Order{}, err
	}
	row, err := newOrderRow(prepared)
	if err != nil {
		return domain.Order{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, row.args()...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, domain.ErrOrderAlreadyExists
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	return prepared, nil
}

func (r *orderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

// List возвращает все заказы, отсортированные по ID.
func (r *orderStore) List(ctx context.Context) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (r *orderStore) Update(ctx context.Context, id string, patch domain.OrderPatch, expectedVersion int64) (domain.Order, error) {
	return r.write(ctx, id, expectedVersion, func(current domain.Order) (domain.Order, error) {
		return domain.ApplyUpdate(current, patch, r.now())
	})
}

func (r *orderStore) Transition(ctx context.Context, id string, transition domain.StatusTransition, expectedVersion int64) (domain.Order, error) {
	return r.write(ctx, id, expectedVersion, func(current domain.Order) (domain.Order, error) {
		return domain.ApplyTransition(current, transition, r.now())
	})
}

func (r *orderStore) Delete(ctx context.Context, id string, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

// write блокирует строку заказа, сверяет версию и записывает результат mutate.
func (r *orderStore) write(ctx context.Context, id string, expectedVersion int64, mutate func(domain.Order) (domain.Order, error)) (_ domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("lock order: %w", err)
	}
	if current.Version != expectedVersion {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	next, err := mutate(current)
	if err != nil {
		return domain.Order{}, err
	}
	row, err := newOrderRow(next)
	if err != nil {
		return domain.Order{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET version = $2,
		    client_name = $3,
		    client_phone = $4,
		    order_type = $5,
		    table_number = $6,
		    notes = $7,
		    scheduled_at = $8,
		    delivery_address = $9,
		    delivery_address_id = $10,
		    delivery_fee_minor = $11,
		    discount_minor = $12,
		    items = $13,
		    payment = $14,
		    status = $15,
		    total_minor = $16,
		    created_by = $17,
		    created_at = $18,
		    updated_at = $19,
		    finalized_at = $20
		WHERE id = $1
		  AND version = $21
	`, append(row.args(), expectedVersion)...)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = domain.ErrOrderVersionConflict
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit order update: %w", err)
	}
	return next, nil
}

// orderRow: заказ в форме колонок таблицы orders.
type orderRow struct {
	order     domain.Order
	items     []byte
	payment   []byte
	createdBy []byte
}

func newOrderRow(order domain.Order) (orderRow, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return orderRow{}, fmt.Errorf("encode order items: %w", err)
	}
	payment, err := json.Marshal(order.Payment)
	if err != nil {
		return orderRow{}, fmt.Errorf("encode order payment: %w", err)
	}
	var createdBy []byte
	if order.CreatedBy != nil {
		if createdBy, err = json.Marshal(order.CreatedBy); err != nil {
			return orderRow{}, fmt.Errorf("encode order author: %w", err)
		}
	}
	return orderRow{order: order, items: items, payment: payment, createdBy: createdBy}, nil
}

func (r orderRow) args() []any {
	o := r.order
	return []any{
		o.ID, o.Version, o.ClientName, o.ClientPhone, string(o.Type), o.TableNumber, o.Notes,
		o.ScheduledAt, o.DeliveryAddress, o.DeliveryAddressID, o.DeliveryFeeMinor,
		o.DiscountMinor, string(r.items), string(r.payment), string(o.Status), o.TotalMinor, nullableJSON(r.createdBy),
		o.CreatedAt, o.UpdatedAt, o.FinalizedAt,
	}
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		orderType   string
		status      string
		items       []byte
		payment     []byte
		createdBy   []byte
		scheduledAt sql.NullTime
		finalizedAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.Version, &order.ClientName, &order.ClientPhone, &orderType, &order.TableNumber, &order.Notes,
		&scheduledAt, &order.DeliveryAddress, &order.DeliveryAddressID, &order.DeliveryFeeMinor,
		&order.DiscountMinor, &items, &payment, &status, &order.TotalMinor, &createdBy,
		&order.CreatedAt, &order.UpdatedAt, &finalizedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Type = domain.OrderType(orderType)
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if scheduledAt.Valid {
		at := scheduledAt.Time.UTC()
		order.ScheduledAt = &at
	}
	if finalizedAt.Valid {
		at := finalizedAt.Time.UTC()
		order.FinalizedAt = &at
	}

	order.Items = []domain.LineItem{}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	if err := json.Unmarshal(payment, &order.Payment); err != nil {
		return domain.Order{}, fmt.Errorf("decode order payment: %w", err)
	}
	if len(createdBy) > 0 {
		var user domain.UserRef
		if err := json.Unmarshal(createdBy, &user); err != nil {
			return domain.Order{}, fmt.Errorf("decode order author: %w", err)
		}
		order.CreatedBy = &user
	}

	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderStore = (*orderStore)(nil)
