package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/jmoiron/sqlx"
)

// SQLDatabase is the write-side store backed by postgres or mysql.
type SQLDatabase struct {
	db *sqlx.DB
}

func NewSQLDatabase(db *sqlx.DB) *SQLDatabase {
	return &SQLDatabase{db: db}
}

func (d *SQLDatabase) Begin(ctx context.Context) (Session, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlSession{tx: tx}, nil
}

type sqlSession struct {
	tx *sqlx.Tx
}

func (s *sqlSession) Orders() OrderRepository  { return &sqlOrderRepository{tx: s.tx} }
func (s *sqlSession) Outbox() OutboxRepository { return &sqlOutboxRepository{tx: s.tx} }

func (s *sqlSession) Commit() error {
	if err := s.tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateOutboxEntry, err)
		}
		return err
	}
	return nil
}

func (s *sqlSession) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type orderRow struct {
	ID              string     `db:"id"`
	CustomerID      string     `db:"customer_id"`
	OrderName       string     `db:"order_name"`
	ShippingAddress string     `db:"shipping_address"`
	BillingAddress  string     `db:"billing_address"`
	Payment         string     `db:"payment"`
	Items           string     `db:"items"`
	Status          string     `db:"status"`
	RowVersion      int        `db:"row_version"`
	DeleteDate      *time.Time `db:"delete_date"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func toOrderRow(o *order.Order) (orderRow, error) {
	row := orderRow{
		ID:         o.ID.String(),
		CustomerID: o.CustomerID.String(),
		OrderName:  o.Name.String(),
		Status:     string(o.Status),
		RowVersion: o.RowVersion,
		DeleteDate: o.DeleteDate,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	cols := []struct {
		dst *string
		src any
	}{
		{&row.ShippingAddress, o.ShippingAddress},
		{&row.BillingAddress, o.BillingAddress},
		{&row.Payment, o.Payment},
		{&row.Items, o.Items},
	}
	for _, c := range cols {
		b, err := json.Marshal(c.src)
		if err != nil {
			return orderRow{}, err
		}
		*c.dst = string(b)
	}
	return row, nil
}

func (r orderRow) toOrder() (*order.Order, error) {
	o := &order.Order{
		ID:         order.OrderID(r.ID),
		CustomerID: order.CustomerID(r.CustomerID),
		Name:       order.OrderName(r.OrderName),
		Status:     order.Status(r.Status),
		RowVersion: r.RowVersion,
		DeleteDate: r.DeleteDate,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	cols := []struct {
		src string
		dst any
	}{
		{r.ShippingAddress, &o.ShippingAddress},
		{r.BillingAddress, &o.BillingAddress},
		{r.Payment, &o.Payment},
		{r.Items, &o.Items},
	}
	for _, c := range cols {
		if err := json.Unmarshal([]byte(c.src), c.dst); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", r.ID, err)
		}
	}
	return o, nil
}

type sqlOrderRepository struct {
	tx *sqlx.Tx
}

func (r *sqlOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	const q = `
		SELECT id, customer_id, order_name, shipping_address, billing_address, payment, items,
		       status, row_version, delete_date, created_at, updated_at
		FROM orders WHERE id = ?
	`
	var row orderRow
	if err := r.tx.GetContext(ctx, &row, r.tx.Rebind(q), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toOrder()
}

func (r *sqlOrderRepository) Insert(ctx context.Context, o *order.Order) error {
	const q = `
		INSERT INTO orders (id, customer_id, order_name, shipping_address, billing_address, payment, items,
		                    status, row_version, delete_date, created_at, updated_at)
		VALUES (:id, :customer_id, :order_name, :shipping_address, :billing_address, :payment, :items,
		        :status, :row_version, :delete_date, :created_at, :updated_at)
	`
	row, err := toOrderRow(o)
	if err != nil {
		return err
	}
	if _, err := r.tx.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", ErrDuplicateKey, row.ID)
		}
		return err
	}
	return nil
}

func (r *sqlOrderRepository) Update(ctx context.Context, o *order.Order, expectedVersion int) error {
	const q = `
		UPDATE orders
		SET order_name = ?, shipping_address = ?, billing_address = ?, payment = ?, items = ?,
		    status = ?, row_version = ?, delete_date = ?, updated_at = ?
		WHERE id = ? AND row_version = ?
	`
	row, err := toOrderRow(o)
	if err != nil {
		return err
	}
	res, err := r.tx.ExecContext(ctx, r.tx.Rebind(q),
		row.OrderName, row.ShippingAddress, row.BillingAddress, row.Payment, row.Items,
		row.Status, row.RowVersion, row.DeleteDate, row.UpdatedAt,
		row.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: order %s expected version %d", ErrStaleVersion, row.ID, expectedVersion)
	}
	return nil
}

type sqlOutboxRepository struct {
	tx *sqlx.Tx
}

func (r *sqlOutboxRepository) Append(ctx context.Context, e OutboxEntry) error {
	const q = `
		INSERT INTO outbox (id, aggregate_id, aggregate_type, version_id, event_type, payload,
		                    is_dispatched, dispatch_date_time, number_of_dispatch_try, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.tx.ExecContext(ctx, r.tx.Rebind(q),
		e.ID, e.AggregateID, e.AggregateType, e.VersionID, e.EventType, string(e.Payload),
		e.IsDispatched, e.DispatchDateTime, e.NumberOfDispatchTry, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s v%d %s", ErrDuplicateOutboxEntry, e.AggregateID, e.VersionID, e.EventType)
		}
		return err
	}
	return nil
}

func (r *sqlOutboxRepository) MarkDispatched(ctx context.Context, aggregateID string, versionID int, eventType string, at time.Time) error {
	const sel = `
		SELECT is_dispatched FROM outbox
		WHERE aggregate_id = ? AND version_id = ? AND event_type = ?
		FOR UPDATE
	`
	var dispatched bool
	if err := r.tx.GetContext(ctx, &dispatched, r.tx.Rebind(sel), aggregateID, versionID, eventType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if dispatched {
		return nil
	}

	const upd = `
		UPDATE outbox
		SET is_dispatched = ?, dispatch_date_time = ?, number_of_dispatch_try = number_of_dispatch_try + 1
		WHERE aggregate_id = ? AND version_id = ? AND event_type = ?
	`
	_, err := r.tx.ExecContext(ctx, r.tx.Rebind(upd), true, at, aggregateID, versionID, eventType)
	return err
}

func (r *sqlOutboxRepository) RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	const q = `
		UPDATE outbox
		SET dispatch_date_time = ?, number_of_dispatch_try = number_of_dispatch_try + 1
		WHERE id = ? AND is_dispatched = ?
	`
	_, err := r.tx.ExecContext(ctx, r.tx.Rebind(q), nextAttempt, id, false)
	return err
}

func (r *sqlOutboxRepository) FindDispatchable(ctx context.Context, before time.Time, limit int) ([]OutboxEntry, error) {
	const q = `
		SELECT id, aggregate_id, aggregate_type, version_id, event_type, payload,
		       is_dispatched, dispatch_date_time, number_of_dispatch_try, created_at
		FROM outbox
		WHERE is_dispatched = ? AND dispatch_date_time <= ?
		ORDER BY dispatch_date_time ASC
		LIMIT ?
	`
	var rows []OutboxEntry
	if err := r.tx.SelectContext(ctx, &rows, r.tx.Rebind(q), false, before, limit); err != nil {
		return nil, err
	}
	return rows, nil
}
