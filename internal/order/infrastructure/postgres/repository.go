package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
)

// Repository persists the Order aggregate. Every mutation is a
// compare-and-swap on the version column: update where id and version match,
// else fail with a conflict the caller retries.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const orderColumns = `id, order_number, user_id, status, payment_status, shipping_status,
	subtotal_cents, tax_cents, shipping_cents, total_cents, currency, payment_method,
	shipping_address, billing_address, phone_number, tracking_number, cancel_reason,
	refund_owed, paid_at, cancelled_at, created_at, updated_at, version`

// SaveWithOutbox inserts a new order, its items, and the OrderCreated outbox
// row in one transaction, so the event is published iff the order committed.
func (r *Repository) SaveWithOutbox(ctx context.Context, o domain.Order, evt outbox.Pending) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, payment_status, shipping_status,
			subtotal_cents, tax_cents, shipping_cents, total_cents, currency, payment_method,
			shipping_address, billing_address, phone_number, refund_owed, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.PaymentStatus, o.ShippingStatus,
		o.SubtotalCents, o.TaxCents, o.ShippingCents, o.TotalCents, o.Currency, o.PaymentMethod,
		o.ShippingAddress, o.BillingAddress, o.PhoneNumber, o.RefundOwed, o.CreatedAt, o.UpdatedAt, o.Version)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if err := InsertOutbox(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.fetch(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *Repository) GetByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.fetch(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, orderNumber)
}

// fetch loads the order and its items in one bounded read; handlers see their
// full data dependency up front instead of lazily traversing references.
func (r *Repository) fetch(ctx context.Context, query string, arg any) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus, &o.ShippingStatus,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.TotalCents, &o.Currency, &o.PaymentMethod,
		&o.ShippingAddress, &o.BillingAddress, &o.PhoneNumber, &o.TrackingNumber, &o.CancelReason,
		&o.RefundOwed, &o.PaidAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, product_name, quantity, unit_price_cents
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// Update persists the aggregate under optimistic locking and bumps the
// in-memory version on success.
func (r *Repository) Update(ctx context.Context, o *domain.Order) error {
	ct, err := r.pool.Exec(ctx, updateOrderSQL, updateOrderArgs(o)...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, o.ID)
	}
	o.Version++
	return nil
}

// UpdateWithOutbox performs the CAS update and enqueues the follow-on saga
// event in the same transaction.
func (r *Repository) UpdateWithOutbox(ctx context.Context, o *domain.Order, evt outbox.Pending) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, updateOrderSQL, updateOrderArgs(o)...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, o.ID)
	}
	if err := InsertOutbox(ctx, tx, evt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version++
	return nil
}

const updateOrderSQL = `
	UPDATE orders SET status=$2, payment_status=$3, shipping_status=$4,
		payment_method=$5, tracking_number=$6, cancel_reason=$7, refund_owed=$8,
		paid_at=$9, cancelled_at=$10, version=version+1, updated_at=now()
	WHERE id=$1 AND version=$11`

func updateOrderArgs(o *domain.Order) []any {
	return []any{
		o.ID, o.Status, o.PaymentStatus, o.ShippingStatus,
		o.PaymentMethod, o.TrackingNumber, o.CancelReason, o.RefundOwed,
		o.PaidAt, o.CancelledAt, o.Version,
	}
}

func (r *Repository) conflictOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrVersionConflict
}

func InsertOutbox(ctx context.Context, tx pgx.Tx, evt outbox.Pending) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, topic, key, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending')`,
		evt.AggregateType, evt.AggregateID, evt.Topic, evt.Key, evt.Type, evt.Payload, evt.Headers, evt.Traceparent)
	return err
}
