package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	catalogdom "github.com/erenzirekbilek/ecommerce-order-saga/internal/catalog/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

// fakeStore mirrors the transactional store's all-or-nothing semantics over
// an in-memory stock table.
type fakeStore struct {
	orders map[string]domain.Order
	stock  map[int64]int
	events []outbox.Pending
}

func newFakeStore(stock map[int64]int, orders ...domain.Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]domain.Order), stock: stock}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeStore) GetOrder(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *fakeStore) Reserve(_ context.Context, o *domain.Order, evt outbox.Pending) error {
	for _, item := range o.Items {
		if s.stock[item.ProductID] < item.Quantity {
			return catalogdom.InsufficientStock(item.ProductID, item.Quantity, s.stock[item.ProductID])
		}
	}
	for _, item := range o.Items {
		s.stock[item.ProductID] -= item.Quantity
	}
	s.orders[o.ID] = *o
	s.events = append(s.events, evt)
	return nil
}

func (s *fakeStore) Fail(_ context.Context, o *domain.Order, evt outbox.Pending) error {
	s.orders[o.ID] = *o
	s.events = append(s.events, evt)
	return nil
}

func paidOrder(t *testing.T, items ...domain.OrderItem) domain.Order {
	t.Helper()
	o := domain.NewOrder(1)
	for _, item := range items {
		require.NoError(t, o.AddItem(item.ProductID, item.ProductName, item.UnitPriceCents, item.Quantity))
	}
	o.CalculateTotals()
	require.NoError(t, o.MarkPaid("CARD"))
	return o
}

func successEvent(o domain.Order) domain.PaymentSuccess {
	return domain.PaymentSuccess{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		TotalCents:  o.TotalCents,
	}
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestHandlePaymentSuccessReserves(t *testing.T) {
	o := paidOrder(t, domain.OrderItem{ProductID: 7, ProductName: "Widget", Quantity: 3, UnitPriceCents: 10_000})
	store := newFakeStore(map[int64]int{7: 10}, o)
	svc := NewService(discard(), store)

	require.NoError(t, svc.HandlePaymentSuccess(context.Background(), successEvent(o)))

	require.Equal(t, 7, store.stock[7])
	require.Equal(t, domain.StatusStockReserved, store.orders[o.ID].Status)

	require.Len(t, store.events, 1)
	require.Equal(t, domain.TopicStockReserved, store.events[0].Topic)
	var evt domain.StockReserved
	require.NoError(t, json.Unmarshal(store.events[0].Payload, &evt))
	require.Equal(t, []domain.StockItem{{ProductID: 7, Quantity: 3}}, evt.Items)
}

func TestHandlePaymentSuccessInsufficientStock(t *testing.T) {
	o := paidOrder(t, domain.OrderItem{ProductID: 7, ProductName: "Widget", Quantity: 3, UnitPriceCents: 10_000})
	store := newFakeStore(map[int64]int{7: 2}, o)
	svc := NewService(discard(), store)

	// An insufficient-stock outcome is handled, not retried.
	require.NoError(t, svc.HandlePaymentSuccess(context.Background(), successEvent(o)))

	require.Equal(t, 2, store.stock[7], "a failed reservation must leave stock untouched")
	require.Equal(t, domain.StatusStockReservationFailed, store.orders[o.ID].Status)

	require.Len(t, store.events, 1)
	require.Equal(t, domain.TopicStockReservationFailed, store.events[0].Topic)
	var evt domain.StockReservationFailed
	require.NoError(t, json.Unmarshal(store.events[0].Payload, &evt))
	require.Contains(t, evt.Reason, "insufficient stock")
}

func TestHandlePaymentSuccessAllOrNothing(t *testing.T) {
	o := paidOrder(t,
		domain.OrderItem{ProductID: 7, ProductName: "Widget", Quantity: 3, UnitPriceCents: 10_000},
		domain.OrderItem{ProductID: 9, ProductName: "Gadget", Quantity: 5, UnitPriceCents: 2_500},
	)
	store := newFakeStore(map[int64]int{7: 10, 9: 1}, o)
	svc := NewService(discard(), store)

	require.NoError(t, svc.HandlePaymentSuccess(context.Background(), successEvent(o)))

	require.Equal(t, 10, store.stock[7], "the in-stock item must not be decremented when a sibling is short")
	require.Equal(t, 1, store.stock[9])
	require.Equal(t, domain.StatusStockReservationFailed, store.orders[o.ID].Status)
}

func TestHandlePaymentSuccessDuplicateDelivery(t *testing.T) {
	o := paidOrder(t, domain.OrderItem{ProductID: 7, ProductName: "Widget", Quantity: 3, UnitPriceCents: 10_000})
	store := newFakeStore(map[int64]int{7: 10}, o)
	svc := NewService(discard(), store)

	require.NoError(t, svc.HandlePaymentSuccess(context.Background(), successEvent(o)))
	require.NoError(t, svc.HandlePaymentSuccess(context.Background(), successEvent(o)))

	require.Equal(t, 7, store.stock[7], "redelivery must not decrement twice")
	require.Len(t, store.events, 1)
}

func TestHandlePaymentSuccessUnknownOrder(t *testing.T) {
	store := newFakeStore(map[int64]int{})
	svc := NewService(discard(), store)

	err := svc.HandlePaymentSuccess(context.Background(), domain.PaymentSuccess{OrderID: "missing"})
	require.Error(t, err)
	require.True(t, resilience.IsInvalidInput(err))
}

func TestFallbackPersistsReservationFailure(t *testing.T) {
	o := paidOrder(t, domain.OrderItem{ProductID: 7, ProductName: "Widget", Quantity: 3, UnitPriceCents: 10_000})
	store := newFakeStore(map[int64]int{7: 10}, o)
	svc := NewService(discard(), store)

	require.NoError(t, svc.Fallback(context.Background(), successEvent(o), context.DeadlineExceeded))

	require.Equal(t, domain.StatusStockReservationFailed, store.orders[o.ID].Status)
	require.Equal(t, 10, store.stock[7])
	require.Len(t, store.events, 1)
	var evt domain.StockReservationFailed
	require.NoError(t, json.Unmarshal(store.events[0].Payload, &evt))
	require.Contains(t, evt.Reason, "system error")
}
