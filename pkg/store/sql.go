package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the few differences between SQLite and PostgreSQL
type dialect struct {
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// timeArg encodes a timestamp for the created_at/updated_at columns
	timeArg func(time.Time) any
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// sqlTime scans either a unix-nanosecond integer (SQLite) or a native
// timestamp (PostgreSQL)
type sqlTime struct {
	t time.Time
}

func (s *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		s.t = time.Unix(0, v).UTC()
	case time.Time:
		s.t = v.UTC()
	case nil:
		s.t = time.Time{}
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

const orderColumns = `id, tenant_id, customer_name, customer_phone, items, total_cents, status, payment_status, created_at, updated_at`

// sqlOrders implements OrderRepository over a querier
type sqlOrders struct {
	q querier
	d dialect
}

func (r *sqlOrders) CreateOrder(ctx context.Context, order *models.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	_, err = r.q.ExecContext(ctx, r.d.rebind(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), order.ID, order.TenantID, order.CustomerName, order.CustomerPhone, string(items),
		order.TotalCents, string(order.Status), string(order.PaymentStatus),
		r.d.timeArg(order.CreatedAt), r.d.timeArg(order.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	return nil
}

func (r *sqlOrders) scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	var itemsJSON, status, payment string
	var created, updated sqlTime
	if err := row.Scan(&o.ID, &o.TenantID, &o.CustomerName, &o.CustomerPhone, &itemsJSON,
		&o.TotalCents, &status, &payment, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &o.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items of order %s: %w", o.ID, err)
	}
	o.Status = models.OrderStatus(status)
	o.PaymentStatus = models.PaymentStatus(payment)
	o.CreatedAt = created.t
	o.UpdatedAt = updated.t
	return &o, nil
}

func (r *sqlOrders) GetOrder(ctx context.Context, tenantID, id string) (*models.Order, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`
		SELECT `+orderColumns+` FROM orders WHERE tenant_id = ? AND id = ?
	`), tenantID, id)

	o, err := r.scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *sqlOrders) ListOrders(ctx context.Context, tenantID string, page Page) (*PagedResult[models.Order], error) {
	res := &PagedResult[models.Order]{Page: page.Number, PageSize: page.Size, Items: []models.Order{}}

	if err := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT COUNT(*) FROM orders WHERE tenant_id = ?`), tenantID).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT `+orderColumns+` FROM orders WHERE tenant_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?
	`), tenantID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res.Items = append(res.Items, *o)
	}
	return res, rows.Err()
}

func (r *sqlOrders) TransitionOrder(ctx context.Context, tenantID, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error) {
	result, err := r.q.ExecContext(ctx, r.d.rebind(`
		UPDATE orders SET status = ?, payment_status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`), string(to), string(payment), r.d.timeArg(time.Now().UTC()), tenantID, id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition order %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = r.q.QueryRowContext(ctx, r.d.rebind(`SELECT 1 FROM orders WHERE tenant_id = ? AND id = ?`), tenantID, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrOrderNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (r *sqlOrders) DeleteStalePendingOrders(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		DELETE FROM orders WHERE status = ? AND created_at < ?
		RETURNING id
	`), string(models.OrderStatusPending), r.d.timeArg(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale orders: %w", err)
	}
	defer rows.Close()

	deleted := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		deleted = append(deleted, id)
	}
	return deleted, rows.Err()
}

// sqlUnitOfWork wraps a database transaction
type sqlUnitOfWork struct {
	tx     *sql.Tx
	orders *sqlOrders
}

func beginSQL(ctx context.Context, db *sql.DB, d dialect) (UnitOfWork, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlUnitOfWork{tx: tx, orders: &sqlOrders{q: tx, d: d}}, nil
}

func (u *sqlUnitOfWork) Orders() OrderRepository { return u.orders }

func (u *sqlUnitOfWork) Commit() error {
	if err := u.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrUnitOfWorkClosed
		}
		return err
	}
	return nil
}

func (u *sqlUnitOfWork) Rollback() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
