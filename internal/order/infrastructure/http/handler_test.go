package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	catalogdom "github.com/erenzirekbilek/ecommerce-order-saga/internal/catalog/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/application"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

type memOrderStore struct {
	byNumber map[string]domain.Order
}

func (s *memOrderStore) SaveWithOutbox(_ context.Context, o domain.Order, _ outbox.Pending) error {
	s.byNumber[o.OrderNumber] = o
	return nil
}

func (s *memOrderStore) Get(_ context.Context, id string) (domain.Order, error) {
	for _, o := range s.byNumber {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *memOrderStore) GetByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	o, ok := s.byNumber[orderNumber]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *memOrderStore) Update(_ context.Context, o *domain.Order) error {
	s.byNumber[o.OrderNumber] = *o
	return nil
}

type memCatalog struct{}

func (memCatalog) Get(_ context.Context, id int64) (catalogdom.Product, error) {
	if id != 7 {
		return catalogdom.Product{}, catalogdom.ErrProductNotFound
	}
	return catalogdom.Product{
		ID: 7, Name: "Widget", PriceCents: 10_000, Stock: 10,
		Available: true, MinOrderQty: 1, MaxOrderQty: 10,
	}, nil
}

func (memCatalog) Release(context.Context, int64, int) error { return nil }

func testRouter() (http.Handler, *memOrderStore) {
	log := slog.New(slog.DiscardHandler)
	store := &memOrderStore{byNumber: make(map[string]domain.Order)}
	exec := resilience.NewExecutor(log, resilience.Policies()[resilience.StageOrderCreation])
	svc := application.NewService(log, store, memCatalog{}, exec)
	return NewHandler(log, svc).Routes(), store
}

func TestCreateOrderAccepted(t *testing.T) {
	router, _ := testRouter()

	body := `{"user_id":1,"items":[{"product_id":7,"quantity":3}],"shipping_address":"1 Main St","tax_cents":1000,"shipping_cents":500}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var view struct {
		OrderNumber string `json:"order_number"`
		Status      string `json:"status"`
		TotalCents  int64  `json:"total_cents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "AWAITING_PAYMENT", view.Status)
	require.Equal(t, int64(31_500), view.TotalCents)
	require.True(t, strings.HasPrefix(view.OrderNumber, "ORD-"))
}

func TestCreateOrderValidationErrors(t *testing.T) {
	router, _ := testRouter()

	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"user_id":`, http.StatusBadRequest},
		{"missing user", `{"items":[{"product_id":7,"quantity":1}]}`, http.StatusUnprocessableEntity},
		{"unknown product", `{"user_id":1,"items":[{"product_id":99,"quantity":1}]}`, http.StatusUnprocessableEntity},
		{"too much stock", `{"user_id":1,"items":[{"product_id":7,"quantity":500}]}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body)))
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestGetOrder(t *testing.T) {
	router, _ := testRouter()

	body := `{"user_id":1,"items":[{"product_id":7,"quantity":1}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		OrderNumber string `json:"order_number"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+created.OrderNumber, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ORD-00000000-NOPE0000", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitionEndpoints(t *testing.T) {
	router, store := testRouter()

	body := `{"user_id":1,"items":[{"product_id":7,"quantity":1}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
	var created struct {
		OrderNumber string `json:"order_number"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Shipping an order that has not completed the saga is a conflict.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderNumber+"/ship",
		strings.NewReader(`{"tracking_number":"TRK-001"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)

	// Advance the stored order as the stage handlers would.
	o := store.byNumber[created.OrderNumber]
	require.NoError(t, o.MarkPaid("CARD"))
	require.NoError(t, o.MarkStockReserved())
	require.NoError(t, o.MarkReadyForShipment())
	store.byNumber[created.OrderNumber] = o

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderNumber+"/ship",
		strings.NewReader(`{"tracking_number":"TRK-001"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderNumber+"/cancel",
		strings.NewReader(`{"reason":"too late"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderNumber+"/deliver", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "DELIVERED", view.Status)
}
