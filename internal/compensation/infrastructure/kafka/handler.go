package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/compensation/application"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/eventbus"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

// PaymentFailedHandler decodes payment-failed messages and cancels the order.
func PaymentFailedHandler(log *slog.Logger, svc *application.Service, exec *resilience.Executor) eventbus.Handler {
	return func(ctx context.Context, msg eventbus.Message) error {
		var evt domain.PaymentFailed
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Error("unmarshal payment-failed failed", "err", err)
			return resilience.InvalidInput(err)
		}
		return exec.Execute(ctx,
			func(ctx context.Context) error { return svc.HandlePaymentFailed(ctx, evt) },
			func(ctx context.Context, cause error) error { return svc.Fallback(ctx, evt.OrderID, cause) },
		)
	}
}

// StockReservationFailedHandler decodes stock-reservation-failed messages,
// cancels the order and flags the refund.
func StockReservationFailedHandler(log *slog.Logger, svc *application.Service, exec *resilience.Executor) eventbus.Handler {
	return func(ctx context.Context, msg eventbus.Message) error {
		var evt domain.StockReservationFailed
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Error("unmarshal stock-reservation-failed failed", "err", err)
			return resilience.InvalidInput(err)
		}
		return exec.Execute(ctx,
			func(ctx context.Context) error { return svc.HandleStockReservationFailed(ctx, evt) },
			func(ctx context.Context, cause error) error { return svc.Fallback(ctx, evt.OrderID, cause) },
		)
	}
}
