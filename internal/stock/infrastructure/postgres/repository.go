package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	catalogdom "github.com/erenzirekbilek/ecommerce-order-saga/internal/catalog/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	orderpg "github.com/erenzirekbilek/ecommerce-order-saga/internal/order/infrastructure/postgres"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
)

// Repository implements the stock stage's store across the orders and
// products tables, which live in the same database.
type Repository struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	orders *orderpg.Repository
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool, orders: orderpg.NewRepository(log, pool)}
}

func (r *Repository) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return r.orders.Get(ctx, id)
}

// Reserve decrements every line item, CAS-updates the order, and enqueues the
// outbox row in one transaction. The conditional decrement (stock >= wanted)
// is the compare-and-swap enforcing the stock >= 0 invariant; a short item
// rolls back everything already decremented in this invocation.
func (r *Repository) Reserve(ctx context.Context, o *domain.Order, evt outbox.Pending) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, item := range o.Items {
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, version = version + 1, updated_at = now()
			WHERE id = $1 AND stock >= $2`, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return r.shortfall(ctx, item.ProductID, item.Quantity)
		}
	}

	if err := r.updateOrder(ctx, tx, o); err != nil {
		return err
	}
	if err := orderpg.InsertOutbox(ctx, tx, evt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version++
	return nil
}

// Fail persists the failed reservation state and its failure event together.
func (r *Repository) Fail(ctx context.Context, o *domain.Order, evt outbox.Pending) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := r.updateOrder(ctx, tx, o); err != nil {
		return err
	}
	if err := orderpg.InsertOutbox(ctx, tx, evt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *Repository) updateOrder(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$3`, o.ID, o.Status, o.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *Repository) shortfall(ctx context.Context, productID int64, wanted int) error {
	var available int
	err := r.pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalogdom.ErrProductNotFound
		}
		return err
	}
	return catalogdom.InsufficientStock(productID, wanted, available)
}
