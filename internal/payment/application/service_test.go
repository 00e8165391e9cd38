package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

type fakeOrderStore struct {
	orders    map[string]domain.Order
	events    []outbox.Pending
	conflicts int
}

func newFakeOrderStore(orders ...domain.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) Get(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) UpdateWithOutbox(_ context.Context, o *domain.Order, evt outbox.Pending) error {
	if s.conflicts > 0 {
		s.conflicts--
		return domain.ErrVersionConflict
	}
	s.orders[o.ID] = *o
	s.events = append(s.events, evt)
	return nil
}

type fakeAuthority struct {
	result   ChargeResult
	err      error
	requests []ChargeRequest
}

func (a *fakeAuthority) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	a.requests = append(a.requests, req)
	if a.err != nil {
		return ChargeResult{}, a.err
	}
	return a.result, nil
}

func testOrder() domain.Order {
	o := domain.NewOrder(1)
	_ = o.AddItem(7, "Widget", 10_000, 3)
	o.PaymentMethod = "CARD"
	o.CalculateTotals()
	return o
}

func createdEvent(o domain.Order) domain.OrderCreated {
	return domain.OrderCreated{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		TotalCents:  o.TotalCents,
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt,
	}
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestHandleOrderCreatedApproved(t *testing.T) {
	o := testOrder()
	store := newFakeOrderStore(o)
	authority := &fakeAuthority{result: ChargeResult{Approved: true, Reference: "SIM-" + o.OrderNumber}}
	svc := NewService(discard(), store, authority)

	require.NoError(t, svc.HandleOrderCreated(context.Background(), createdEvent(o)))

	saved := store.orders[o.ID]
	require.Equal(t, domain.StatusPaymentConfirmed, saved.Status)
	require.Equal(t, domain.PaymentPaid, saved.PaymentStatus)

	require.Len(t, authority.requests, 1)
	require.Equal(t, "pay-"+o.OrderNumber, authority.requests[0].IdempotencyKey)
	require.Equal(t, o.TotalCents, authority.requests[0].AmountCents)

	require.Len(t, store.events, 1)
	require.Equal(t, domain.TopicPaymentSuccess, store.events[0].Topic)
	require.Equal(t, o.OrderNumber, store.events[0].Key)

	var evt domain.PaymentSuccess
	require.NoError(t, json.Unmarshal(store.events[0].Payload, &evt))
	require.Equal(t, o.ID, evt.OrderID)
	require.Equal(t, o.TotalCents, evt.TotalCents)
}

func TestHandleOrderCreatedRetriesVersionConflict(t *testing.T) {
	o := testOrder()
	store := newFakeOrderStore(o)
	store.conflicts = 1
	authority := &fakeAuthority{result: ChargeResult{Approved: true, Reference: "SIM-" + o.OrderNumber}}
	svc := NewService(discard(), store, authority)

	exec := resilience.NewExecutor(discard(), resilience.Policy{
		Name:                 "paymentProcessing",
		FailureRateThreshold: 0.60,
		MinCalls:             100,
		OpenDuration:         time.Minute,
		HalfOpenCalls:        1,
		SlowCallThreshold:    time.Second,
		MaxAttempts:          5,
		BackoffBase:          time.Millisecond,
		BackoffFactor:        1,
	})

	// A losing CAS write is transient: the executor re-runs the handler,
	// which reloads the order and replays the charge under the same
	// idempotency key.
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		return svc.HandleOrderCreated(ctx, createdEvent(o))
	}, nil)
	require.NoError(t, err)

	saved := store.orders[o.ID]
	require.Equal(t, domain.StatusPaymentConfirmed, saved.Status)
	require.Len(t, store.events, 1)
	require.Len(t, authority.requests, 2)
	require.Equal(t, authority.requests[0].IdempotencyKey, authority.requests[1].IdempotencyKey)
}

func TestHandleOrderCreatedDeclined(t *testing.T) {
	o := testOrder()
	store := newFakeOrderStore(o)
	authority := &fakeAuthority{result: ChargeResult{Approved: false, Reason: "amount exceeds authorization limit"}}
	svc := NewService(discard(), store, authority)

	// A decline is a handled business outcome, not a processing error.
	require.NoError(t, svc.HandleOrderCreated(context.Background(), createdEvent(o)))

	saved := store.orders[o.ID]
	require.Equal(t, domain.StatusPaymentFailed, saved.Status)
	require.Equal(t, domain.PaymentFailedSt, saved.PaymentStatus)

	require.Len(t, store.events, 1)
	require.Equal(t, domain.TopicPaymentFailed, store.events[0].Topic)

	var evt domain.PaymentFailed
	require.NoError(t, json.Unmarshal(store.events[0].Payload, &evt))
	require.Contains(t, evt.Reason, "payment declined")
	require.Contains(t, evt.Reason, "amount exceeds authorization limit")
}

func TestHandleOrderCreatedDuplicateDelivery(t *testing.T) {
	o := testOrder()
	require.NoError(t, o.MarkPaid("CARD"))
	store := newFakeOrderStore(o)
	authority := &fakeAuthority{result: ChargeResult{Approved: true}}
	svc := NewService(discard(), store, authority)

	require.NoError(t, svc.HandleOrderCreated(context.Background(), createdEvent(o)))
	require.Empty(t, authority.requests, "a settled order must not be charged again")
	require.Empty(t, store.events)
}

func TestHandleOrderCreatedAuthorityErrorPersistsBeforePropagating(t *testing.T) {
	o := testOrder()
	store := newFakeOrderStore(o)
	authority := &fakeAuthority{err: errors.New("connection reset")}
	svc := NewService(discard(), store, authority)

	err := svc.HandleOrderCreated(context.Background(), createdEvent(o))
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")

	// The failed state is on record before the error propagates.
	saved := store.orders[o.ID]
	require.Equal(t, domain.StatusPaymentFailed, saved.Status)
	require.Len(t, store.events, 1)
	require.Equal(t, domain.TopicPaymentFailed, store.events[0].Topic)
}

func TestHandleOrderCreatedUnknownOrder(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewService(discard(), store, &fakeAuthority{})

	err := svc.HandleOrderCreated(context.Background(), domain.OrderCreated{OrderID: "missing"})
	require.Error(t, err)
	require.True(t, resilience.IsInvalidInput(err), "a missing order cannot be fixed by redelivery")
}

func TestFallbackEmitsPaymentFailed(t *testing.T) {
	o := testOrder()
	store := newFakeOrderStore(o)
	svc := NewService(discard(), store, &fakeAuthority{})

	require.NoError(t, svc.Fallback(context.Background(), createdEvent(o), errors.New("circuit open")))

	saved := store.orders[o.ID]
	require.Equal(t, domain.StatusPaymentFailed, saved.Status)
	require.Len(t, store.events, 1)

	var evt domain.PaymentFailed
	require.NoError(t, json.Unmarshal(store.events[0].Payload, &evt))
	require.Contains(t, evt.Reason, "system error")
}

func TestFallbackIsNoopForSettledOrder(t *testing.T) {
	o := testOrder()
	require.NoError(t, o.MarkPaid("CARD"))
	store := newFakeOrderStore(o)
	svc := NewService(discard(), store, &fakeAuthority{})

	require.NoError(t, svc.Fallback(context.Background(), createdEvent(o), errors.New("circuit open")))
	require.Empty(t, store.events)
	require.Equal(t, domain.StatusPaymentConfirmed, store.orders[o.ID].Status)
}
