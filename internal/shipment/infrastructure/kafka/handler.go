package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/shipment/application"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/eventbus"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

// Handler decodes stock-reserved messages and runs shipment preparation
// under its resilience policy.
func Handler(log *slog.Logger, svc *application.Service, exec *resilience.Executor) eventbus.Handler {
	return func(ctx context.Context, msg eventbus.Message) error {
		var evt domain.StockReserved
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Error("unmarshal stock-reserved failed", "err", err)
			return resilience.InvalidInput(err)
		}
		return exec.Execute(ctx,
			func(ctx context.Context) error { return svc.HandleStockReserved(ctx, evt) },
			func(ctx context.Context, cause error) error { return svc.Fallback(ctx, evt, cause) },
		)
	}
}
