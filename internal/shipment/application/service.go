package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

// Service is the shipment-preparation stage, the last hop of the happy
// path. It moves a reserved order to READY_FOR_SHIPMENT; actual carrier
// dispatch happens later through the order API.
type Service struct {
	log    *slog.Logger
	orders OrderStore
}

func NewService(log *slog.Logger, orders OrderStore) *Service {
	return &Service{log: log, orders: orders}
}

func (s *Service) HandleStockReserved(ctx context.Context, evt domain.StockReserved) error {
	o, err := s.orders.Get(ctx, evt.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return resilience.InvalidInput(fmt.Errorf("order %s: %w", evt.OrderID, err))
		}
		return err
	}
	if o.Status != domain.StatusStockReserved {
		s.log.Warn("order not awaiting shipment preparation, skipping", "order_id", o.ID, "status", o.Status)
		return nil
	}
	if err := o.MarkReadyForShipment(); err != nil {
		s.log.Warn("shipment transition skipped", "order_id", o.ID, "err", err)
		return nil
	}
	if err := s.orders.Update(ctx, &o); err != nil {
		return err
	}
	s.log.Info("order ready for shipment", "order_id", o.ID, "order_number", o.OrderNumber)
	return nil
}

// Fallback runs when preparation keeps failing or the breaker is open.
// There is no downstream stage to notify; the order stays STOCK_RESERVED
// and the message is dead-lettered for operator replay.
func (s *Service) Fallback(ctx context.Context, evt domain.StockReserved, cause error) error {
	s.log.Error("shipment preparation exhausted retries",
		"order_id", evt.OrderID, "order_number", evt.OrderNumber, "err", cause)
	return fmt.Errorf("shipment preparation for order %s: %w", evt.OrderID, cause)
}
