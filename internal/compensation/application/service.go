package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

// Service is the saga's undo logic. It consumes the failure events of the
// payment and stock stages and drives the order to CANCELLED. Failure events
// are redelivered at least once, so cancelling an already-cancelled order is
// a no-op, never an error.
type Service struct {
	log    *slog.Logger
	orders OrderStore
}

func NewService(log *slog.Logger, orders OrderStore) *Service {
	return &Service{log: log, orders: orders}
}

func (s *Service) HandlePaymentFailed(ctx context.Context, evt domain.PaymentFailed) error {
	return s.cancel(ctx, evt.OrderID, fmt.Sprintf("payment failed: %s", evt.Reason), false)
}

// HandleStockReservationFailed cancels the order and flags it as owing a
// refund; the payment already settled before reservation was attempted.
// Refund execution itself is a back-office concern outside this service.
func (s *Service) HandleStockReservationFailed(ctx context.Context, evt domain.StockReservationFailed) error {
	return s.cancel(ctx, evt.OrderID, fmt.Sprintf("stock reservation failed: %s", evt.Reason), true)
}

func (s *Service) cancel(ctx context.Context, orderID, reason string, refundOwed bool) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return resilience.InvalidInput(fmt.Errorf("order %s: %w", orderID, err))
		}
		return err
	}
	if o.Status == domain.StatusCancelled {
		s.log.Info("order already cancelled, skipping compensation", "order_id", o.ID)
		return nil
	}
	if err := o.Cancel(reason); err != nil {
		// Shipped or delivered orders cannot be clawed back here; a stale
		// failure event against them is logged and dropped.
		s.log.Warn("compensation refused by state machine", "order_id", o.ID, "status", o.Status, "err", err)
		return nil
	}
	o.RefundOwed = refundOwed
	if err := s.orders.Update(ctx, &o); err != nil {
		return err
	}
	s.log.Info("order cancelled by compensation",
		"order_id", o.ID, "order_number", o.OrderNumber, "reason", reason, "refund_owed", refundOwed)
	return nil
}

// Fallback runs when compensation itself keeps failing. The order stays in
// its failure state and the event is dead-lettered for operator replay.
func (s *Service) Fallback(ctx context.Context, orderID string, cause error) error {
	s.log.Error("compensation exhausted retries", "order_id", orderID, "err", cause)
	return fmt.Errorf("compensation for order %s: %w", orderID, cause)
}
