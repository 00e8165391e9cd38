package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/payment/application"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/eventbus"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

// Handler decodes order-created messages and runs the payment stage under
// its resilience policy. Malformed payloads are invalid input: they skip the
// retry budget and go straight to the dead-letter topic.
func Handler(log *slog.Logger, svc *application.Service, exec *resilience.Executor) eventbus.Handler {
	return func(ctx context.Context, msg eventbus.Message) error {
		var evt domain.OrderCreated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Error("unmarshal order-created failed", "err", err)
			return resilience.InvalidInput(err)
		}
		return exec.Execute(ctx,
			func(ctx context.Context) error { return svc.HandleOrderCreated(ctx, evt) },
			func(ctx context.Context, cause error) error { return svc.Fallback(ctx, evt, cause) },
		)
	}
}
