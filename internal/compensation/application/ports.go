package application

import (
	"context"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
)

// OrderStore is the slice of order persistence compensation needs.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	// Update persists the order with a version check and bumps the version
	// on success. Returns domain.ErrVersionConflict when another writer won.
	Update(ctx context.Context, o *domain.Order) error
}
