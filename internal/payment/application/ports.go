package application

import (
	"context"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
)

type OrderStore interface {
	Get(ctx context.Context, id string) (domain.Order, error)
	UpdateWithOutbox(ctx context.Context, o *domain.Order, evt outbox.Pending) error
}

// ChargeRequest goes to the payment authority. The authority offers no
// idempotency guarantee of its own, so the handler supplies a key derived
// from the order number: replays of the same order charge at most once.
type ChargeRequest struct {
	IdempotencyKey string
	OrderNumber    string
	AmountCents    int64
	Currency       string
	Method         string
}

type ChargeResult struct {
	Approved  bool
	Reason    string
	Reference string
}

type Authority interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
