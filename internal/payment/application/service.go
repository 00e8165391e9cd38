package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/tracing"
)

// Service is the payment stage of the saga. It consumes OrderCreated,
// charges the payment authority, and emits PaymentSuccess or PaymentFailed.
type Service struct {
	log       *slog.Logger
	orders    OrderStore
	authority Authority
}

func NewService(log *slog.Logger, orders OrderStore, authority Authority) *Service {
	return &Service{log: log, orders: orders, authority: authority}
}

// HandleOrderCreated processes one order-created event. Redelivered events
// find the order past PENDING and are discarded as harmless duplicates. Any
// authority failure persists the failed state before the error propagates, so
// a retry sees consistent prior state instead of reprocessing from scratch.
func (s *Service) HandleOrderCreated(ctx context.Context, evt domain.OrderCreated) error {
	o, err := s.orders.Get(ctx, evt.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return resilience.InvalidInput(fmt.Errorf("order %s: %w", evt.OrderID, err))
		}
		return err
	}
	if o.PaymentStatus != domain.PaymentPending {
		s.log.Warn("order already processed, skipping", "order_id", o.ID, "payment_status", o.PaymentStatus)
		return nil
	}

	res, err := s.authority.Charge(ctx, ChargeRequest{
		IdempotencyKey: "pay-" + o.OrderNumber,
		OrderNumber:    o.OrderNumber,
		AmountCents:    evt.TotalCents,
		Currency:       evt.Currency,
		Method:         o.PaymentMethod,
	})
	if err != nil {
		if failErr := s.persistFailure(ctx, &o, "payment authority error: "+err.Error()); failErr != nil {
			s.log.Error("could not persist payment failure", "order_id", o.ID, "err", failErr)
		}
		return fmt.Errorf("charge order %s: %w", o.OrderNumber, err)
	}

	if !res.Approved {
		s.log.Warn("payment declined", "order_id", o.ID, "order_number", o.OrderNumber, "reason", res.Reason)
		return s.persistFailure(ctx, &o, "payment declined: "+res.Reason)
	}

	if err := o.MarkPaid(res.Reference); err != nil {
		// Lost a race with a concurrent delivery that already advanced the
		// order; treat like any other duplicate.
		s.log.Warn("payment transition skipped", "order_id", o.ID, "err", err)
		return nil
	}
	successEvt := domain.PaymentSuccess{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		TotalCents:    o.TotalCents,
		PaymentMethod: o.PaymentMethod,
		PaidAt:        *o.PaidAt,
	}
	payload, err := json.Marshal(successEvt)
	if err != nil {
		return err
	}
	err = s.orders.UpdateWithOutbox(ctx, &o, outbox.Pending{
		AggregateType: "order",
		AggregateID:   o.ID,
		Topic:         domain.TopicPaymentSuccess,
		Key:           o.OrderNumber,
		Type:          domain.EventPaymentSuccess,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	})
	if err != nil {
		return err
	}
	s.log.Info("payment confirmed", "order_id", o.ID, "order_number", o.OrderNumber, "total_cents", o.TotalCents)
	return nil
}

// Fallback runs when the circuit is open or the retry budget is exhausted. It
// marks the saga failed and emits PaymentFailed; the event is never silently
// dropped.
func (s *Service) Fallback(ctx context.Context, evt domain.OrderCreated, cause error) error {
	o, err := s.orders.Get(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	if o.PaymentStatus != domain.PaymentPending {
		return nil
	}
	s.log.Error("payment fallback engaged", "order_id", o.ID, "err", cause)
	return s.persistFailure(ctx, &o, "system error: "+cause.Error())
}

func (s *Service) persistFailure(ctx context.Context, o *domain.Order, reason string) error {
	if err := o.MarkPaymentFailed(); err != nil {
		// Already failed on a previous attempt; nothing left to record.
		return nil
	}
	failedEvt := domain.PaymentFailed{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Reason:      reason,
		FailedAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(failedEvt)
	if err != nil {
		return err
	}
	return s.orders.UpdateWithOutbox(ctx, o, outbox.Pending{
		AggregateType: "order",
		AggregateID:   o.ID,
		Topic:         domain.TopicPaymentFailed,
		Key:           o.OrderNumber,
		Type:          domain.EventPaymentFailed,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	})
}
