package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/catalog/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const productColumns = `id, name, price_cents, stock, available, min_order_qty, max_order_qty, created_at, updated_at, version`

func (r *Repository) Get(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.Available, &p.MinOrderQty, &p.MaxOrderQty, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, err
	}
	return p, nil
}

// Save upserts a product row. Used by seeding and by operator tooling; the
// stock handler never writes through this path.
func (r *Repository) Save(ctx context.Context, p domain.Product) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, name, price_cents, stock, available, min_order_qty, max_order_qty)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET name=$2, price_cents=$3, stock=$4, available=$5, min_order_qty=$6, max_order_qty=$7,
		    version=products.version+1, updated_at=now()`,
		p.ID, p.Name, p.PriceCents, p.Stock, p.Available, p.MinOrderQty, p.MaxOrderQty)
	return err
}

// Release restores stock for previously reserved quantities when a cancel
// voids the reservation.
func (r *Repository) Release(ctx context.Context, productID int64, qty int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE products SET stock = stock + $2, version = version + 1, updated_at = now()
		WHERE id = $1`, productID, qty)
	return err
}
