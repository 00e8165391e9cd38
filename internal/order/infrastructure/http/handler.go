package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/application"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderNumber}", h.getOrder)
	r.Post("/orders/{orderNumber}/ship", h.shipOrder)
	r.Post("/orders/{orderNumber}/deliver", h.deliverOrder)
	r.Post("/orders/{orderNumber}/cancel", h.cancelOrder)
	return r
}

type createOrderReq struct {
	UserID          int64            `json:"user_id"`
	Items           []createItemReq  `json:"items"`
	ShippingAddress string           `json:"shipping_address"`
	BillingAddress  string           `json:"billing_address"`
	PhoneNumber     string           `json:"phone_number"`
	PaymentMethod   string           `json:"payment_method"`
	TaxCents        int64            `json:"tax_cents"`
	ShippingCents   int64            `json:"shipping_cents"`
}

type createItemReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type orderView struct {
	OrderID        string     `json:"order_id"`
	OrderNumber    string     `json:"order_number"`
	Status         string     `json:"status"`
	PaymentStatus  string     `json:"payment_status"`
	ShippingStatus string     `json:"shipping_status"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxCents       int64      `json:"tax_cents"`
	ShippingCents  int64      `json:"shipping_cents"`
	TotalCents     int64      `json:"total_cents"`
	Currency       string     `json:"currency"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
	RefundOwed     bool       `json:"refund_owed"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func viewOf(o domain.Order) orderView {
	return orderView{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		ShippingStatus: string(o.ShippingStatus),
		SubtotalCents:  o.SubtotalCents,
		TaxCents:       o.TaxCents,
		ShippingCents:  o.ShippingCents,
		TotalCents:     o.TotalCents,
		Currency:       o.Currency,
		TrackingNumber: o.TrackingNumber,
		CancelReason:   o.CancelReason,
		RefundOwed:     o.RefundOwed,
		PaidAt:         o.PaidAt,
		CreatedAt:      o.CreatedAt,
	}
}

// createOrder is the only synchronous saga surface: validation errors return
// immediately; downstream stage failures show up later via status polling.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	appReq := application.CreateOrderRequest{
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PhoneNumber:     req.PhoneNumber,
		PaymentMethod:   req.PaymentMethod,
		TaxCents:        req.TaxCents,
		ShippingCents:   req.ShippingCents,
	}
	for _, item := range req.Items {
		appReq.Items = append(appReq.Items, application.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	o, err := h.service.CreateOrder(ctx, appReq)
	if err != nil {
		if resilience.IsInvalidInput(err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.log.Error("order creation failed", "err", err)
		http.Error(w, "order creation temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(viewOf(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetByNumber(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(o))
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TrackingNumber string `json:"tracking_number"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	o, err := h.service.Ship(r.Context(), chi.URLParam(r, "orderNumber"), body.TrackingNumber)
	h.writeTransition(w, o, err)
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Deliver(r.Context(), chi.URLParam(r, "orderNumber"))
	h.writeTransition(w, o, err)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	o, err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "orderNumber"), body.Reason)
	h.writeTransition(w, o, err)
}

func (h *Handler) writeTransition(w http.ResponseWriter, o domain.Order, err error) {
	if err != nil {
		h.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(o))
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
