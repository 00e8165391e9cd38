package application

import (
	"context"

	catalogdom "github.com/erenzirekbilek/ecommerce-order-saga/internal/catalog/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
)

type OrderStore interface {
	SaveWithOutbox(ctx context.Context, o domain.Order, evt outbox.Pending) error
	Get(ctx context.Context, id string) (domain.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
}

// ProductCatalog is the order side's view of the catalog: price and stock
// reads at creation time, plus restocking when a cancel voids a reservation.
type ProductCatalog interface {
	Get(ctx context.Context, id int64) (catalogdom.Product, error)
	Release(ctx context.Context, productID int64, qty int) error
}
