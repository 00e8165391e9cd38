package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	catalogdom "github.com/erenzirekbilek/ecommerce-order-saga/internal/catalog/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/tracing"
)

// Service is the stock-reservation stage: for every line item it checks
// stock >= quantity and decrements; if any item is short, the whole
// reservation fails with nothing committed.
type Service struct {
	log   *slog.Logger
	store Store
}

func NewService(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store}
}

func (s *Service) HandlePaymentSuccess(ctx context.Context, evt domain.PaymentSuccess) error {
	o, err := s.store.GetOrder(ctx, evt.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return resilience.InvalidInput(fmt.Errorf("order %s: %w", evt.OrderID, err))
		}
		return err
	}
	if o.Status != domain.StatusPaymentConfirmed {
		s.log.Warn("order not awaiting reservation, skipping", "order_id", o.ID, "status", o.Status)
		return nil
	}

	if err := o.MarkStockReserved(); err != nil {
		s.log.Warn("reservation transition skipped", "order_id", o.ID, "err", err)
		return nil
	}
	reservedEvt := domain.StockReserved{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		ReservedAt:  time.Now().UTC(),
	}
	for _, item := range o.Items {
		reservedEvt.Items = append(reservedEvt.Items, domain.StockItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	payload, err := json.Marshal(reservedEvt)
	if err != nil {
		return err
	}

	err = s.store.Reserve(ctx, &o, outbox.Pending{
		AggregateType: "order",
		AggregateID:   o.ID,
		Topic:         domain.TopicStockReserved,
		Key:           o.OrderNumber,
		Type:          domain.EventStockReserved,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	})
	if err == nil {
		s.log.Info("stock reserved", "order_id", o.ID, "order_number", o.OrderNumber, "items", len(o.Items))
		return nil
	}
	if errors.Is(err, catalogdom.ErrInsufficientStock) {
		s.log.Warn("stock reservation failed", "order_id", o.ID, "reason", err.Error())
		return s.persistFailure(ctx, o.ID, err.Error())
	}
	return err
}

// Fallback marks the saga failed once the circuit is open or retries are
// spent, emitting StockReservationFailed for the compensation handler.
func (s *Service) Fallback(ctx context.Context, evt domain.PaymentSuccess, cause error) error {
	o, err := s.store.GetOrder(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	if o.Status != domain.StatusPaymentConfirmed {
		return nil
	}
	s.log.Error("stock reservation fallback engaged", "order_id", o.ID, "err", cause)
	return s.persistFailure(ctx, o.ID, "system error: "+cause.Error())
}

func (s *Service) persistFailure(ctx context.Context, orderID, reason string) error {
	// Reload: the failed Reserve rolled back, but the in-memory aggregate was
	// already advanced past its persisted state.
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := o.MarkStockReservationFailed(); err != nil {
		return nil
	}
	failedEvt := domain.StockReservationFailed{
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
	return s.store.Fail(ctx, &o, outbox.Pending{
		AggregateType: "order",
		AggregateID:   o.ID,
		Topic:         domain.TopicStockReservationFailed,
		Key:           o.OrderNumber,
		Type:          domain.EventStockReservationFailed,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	})
}
