package application

import (
	"context"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
)

// Store spans the order and product aggregates. Reserve must be atomic: all
// line-item decrements, the order status change, and the outbox row commit
// together or not at all; no partial decrement survives a failed
// reservation.
type Store interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	Reserve(ctx context.Context, o *domain.Order, evt outbox.Pending) error
	Fail(ctx context.Context, o *domain.Order, evt outbox.Pending) error
}
