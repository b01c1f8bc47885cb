package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/readmodel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SQLViewStore persists order views and their audit stream.
type SQLViewStore struct {
	db *sqlx.DB
}

func NewSQLViewStore(db *sqlx.DB) *SQLViewStore {
	return &SQLViewStore{db: db}
}

var (
	_ ViewStore[*readmodel.OrderView] = (*SQLViewStore)(nil)
	_ OrderViewReader                 = (*SQLViewStore)(nil)
)

const viewColumns = `id, customer_id, order_name, shipping_address, billing_address, payment, items,
	status, total_price, deleted_date, version, created_event_version, updated_event_version,
	deleted_event_version, created_at, updated_at`

type viewRow struct {
	ID                  string          `db:"id"`
	CustomerID          string          `db:"customer_id"`
	OrderName           string          `db:"order_name"`
	ShippingAddress     string          `db:"shipping_address"`
	BillingAddress      string          `db:"billing_address"`
	Payment             string          `db:"payment"`
	Items               string          `db:"items"`
	Status              string          `db:"status"`
	TotalPrice          decimal.Decimal `db:"total_price"`
	DeletedDate         *time.Time      `db:"deleted_date"`
	Version             int             `db:"version"`
	CreatedEventVersion int             `db:"created_event_version"`
	UpdatedEventVersion int             `db:"updated_event_version"`
	DeletedEventVersion int             `db:"deleted_event_version"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func toViewRow(v *readmodel.OrderView) (viewRow, error) {
	row := viewRow{
		ID:                  v.ID,
		CustomerID:          v.CustomerID,
		OrderName:           v.OrderName,
		Status:              v.Status,
		TotalPrice:          v.TotalPrice,
		DeletedDate:         v.DeletedDate,
		Version:             v.Version,
		CreatedEventVersion: v.CreatedEventVersion,
		UpdatedEventVersion: v.UpdatedEventVersion,
		DeletedEventVersion: v.DeletedEventVersion,
		CreatedAt:           v.CreatedAt,
		UpdatedAt:           v.UpdatedAt,
	}
	cols := []struct {
		dst *string
		src any
	}{
		{&row.ShippingAddress, v.ShippingAddress},
		{&row.BillingAddress, v.BillingAddress},
		{&row.Payment, v.Payment},
		{&row.Items, v.Items},
	}
	for _, c := range cols {
		b, err := json.Marshal(c.src)
		if err != nil {
			return viewRow{}, err
		}
		*c.dst = string(b)
	}
	return row, nil
}

func (r viewRow) toView() (*readmodel.OrderView, error) {
	v := &readmodel.OrderView{
		ID:                  r.ID,
		CustomerID:          r.CustomerID,
		OrderName:           r.OrderName,
		Status:              r.Status,
		TotalPrice:          r.TotalPrice,
		DeletedDate:         r.DeletedDate,
		Version:             r.Version,
		CreatedEventVersion: r.CreatedEventVersion,
		UpdatedEventVersion: r.UpdatedEventVersion,
		DeletedEventVersion: r.DeletedEventVersion,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	cols := []struct {
		src string
		dst any
	}{
		{r.ShippingAddress, &v.ShippingAddress},
		{r.BillingAddress, &v.BillingAddress},
		{r.Payment, &v.Payment},
		{r.Items, &v.Items},
	}
	for _, c := range cols {
		if err := json.Unmarshal([]byte(c.src), c.dst); err != nil {
			return nil, fmt.Errorf("decode view %s: %w", r.ID, err)
		}
	}
	return v, nil
}

func (s *SQLViewStore) Begin(ctx context.Context) (ViewSession[*readmodel.OrderView], error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlViewSession{tx: tx, loaded: make(map[string]bool)}, nil
}

func (s *SQLViewStore) GetView(ctx context.Context, id string) (*readmodel.OrderView, error) {
	var row viewRow
	q := s.db.Rebind(`SELECT ` + viewColumns + ` FROM order_views WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toView()
}

func (s *SQLViewStore) ListByCustomer(ctx context.Context, customerID string) ([]*readmodel.OrderView, error) {
	var rows []viewRow
	q := s.db.Rebind(`SELECT ` + viewColumns + ` FROM order_views WHERE customer_id = ? ORDER BY id ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, customerID); err != nil {
		return nil, err
	}
	views := make([]*readmodel.OrderView, 0, len(rows))
	for _, r := range rows {
		v, err := r.toView()
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *SQLViewStore) Streams(ctx context.Context, viewID string) ([]readmodel.StreamRecord, error) {
	const q = `
		SELECT id, view_id, event_type, source, created_at, data
		FROM order_view_events WHERE view_id = ? ORDER BY created_at ASC, id ASC
	`
	var recs []readmodel.StreamRecord
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(q), viewID); err != nil {
		return nil, err
	}
	return recs, nil
}

type sqlViewSession struct {
	tx     *sqlx.Tx
	loaded map[string]bool
}

// Load locks the row for the rest of the transaction.
func (s *sqlViewSession) Load(ctx context.Context, id string) (*readmodel.OrderView, bool, error) {
	var row viewRow
	q := s.tx.Rebind(`SELECT ` + viewColumns + ` FROM order_views WHERE id = ? FOR UPDATE`)
	if err := s.tx.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	v, err := row.toView()
	if err != nil {
		return nil, false, err
	}
	s.loaded[id] = true
	return v, true, nil
}

// Save updates a row returned by Load and inserts anything else. Two
// sessions racing to create the same view fail on the primary key.
func (s *sqlViewSession) Save(ctx context.Context, v *readmodel.OrderView) error {
	row, err := toViewRow(v)
	if err != nil {
		return err
	}

	if s.loaded[v.ID] {
		const q = `
			UPDATE order_views
			SET customer_id = :customer_id, order_name = :order_name, shipping_address = :shipping_address,
			    billing_address = :billing_address, payment = :payment, items = :items, status = :status,
			    total_price = :total_price, deleted_date = :deleted_date, version = :version,
			    created_event_version = :created_event_version, updated_event_version = :updated_event_version,
			    deleted_event_version = :deleted_event_version, updated_at = :updated_at
			WHERE id = :id
		`
		_, err = s.tx.NamedExecContext(ctx, q, row)
		return err
	}

	const q = `
		INSERT INTO order_views (id, customer_id, order_name, shipping_address, billing_address, payment, items,
		                         status, total_price, deleted_date, version, created_event_version,
		                         updated_event_version, deleted_event_version, created_at, updated_at)
		VALUES (:id, :customer_id, :order_name, :shipping_address, :billing_address, :payment, :items,
		        :status, :total_price, :deleted_date, :version, :created_event_version,
		        :updated_event_version, :deleted_event_version, :created_at, :updated_at)
	`
	if _, err = s.tx.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order view %s", ErrDuplicateKey, v.ID)
		}
		return err
	}
	s.loaded[v.ID] = true
	return nil
}

func (s *sqlViewSession) AppendStream(ctx context.Context, rec readmodel.StreamRecord) error {
	const q = `
		INSERT INTO order_view_events (id, view_id, event_type, source, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if rec.ID == "" {
		rec.ID = newID()
	}
	_, err := s.tx.ExecContext(ctx, s.tx.Rebind(q), rec.ID, rec.ViewID, rec.EventType, rec.Source, rec.CreatedAt, string(rec.Data))
	return err
}

func (s *sqlViewSession) Commit() error { return s.tx.Commit() }

func (s *sqlViewSession) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
