package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	catalogdom "github.com/erenzirekbilek/ecommerce-order-saga/internal/catalog/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/internal/order/domain"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/outbox"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/resilience"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/tracing"
)

type CreateOrderRequest struct {
	UserID          int64
	Items           []ItemRequest
	ShippingAddress string
	BillingAddress  string
	PhoneNumber     string
	PaymentMethod   string
	TaxCents        int64
	ShippingCents   int64
}

type ItemRequest struct {
	ProductID int64
	Quantity  int
}

// Service is the synchronous entry point of the saga: it validates the
// request, snapshots unit prices, computes totals, and persists the order
// together with its OrderCreated outbox row. Everything after that is
// asynchronous; callers observe progress by polling order status.
type Service struct {
	log      *slog.Logger
	orders   OrderStore
	products ProductCatalog
	exec     *resilience.Executor
}

func NewService(log *slog.Logger, orders OrderStore, products ProductCatalog, exec *resilience.Executor) *Service {
	return &Service{log: log, orders: orders, products: products, exec: exec}
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	var created domain.Order
	err := s.exec.Execute(ctx, func(ctx context.Context) error {
		o, err := s.create(ctx, req)
		if err != nil {
			return err
		}
		created = o
		return nil
	}, nil)
	return created, err
}

func (s *Service) create(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if req.UserID <= 0 {
		return domain.Order{}, resilience.InvalidInput(errors.New("user id required"))
	}
	if len(req.Items) == 0 {
		return domain.Order{}, resilience.InvalidInput(errors.New("order must have at least one item"))
	}

	o := domain.NewOrder(req.UserID)
	o.ShippingAddress = req.ShippingAddress
	o.BillingAddress = req.BillingAddress
	if o.BillingAddress == "" {
		o.BillingAddress = req.ShippingAddress
	}
	o.PhoneNumber = req.PhoneNumber
	o.PaymentMethod = req.PaymentMethod
	o.TaxCents = req.TaxCents
	o.ShippingCents = req.ShippingCents

	for _, ir := range req.Items {
		p, err := s.products.Get(ctx, ir.ProductID)
		if err != nil {
			if errors.Is(err, catalogdom.ErrProductNotFound) {
				return domain.Order{}, resilience.InvalidInput(err)
			}
			return domain.Order{}, err
		}
		if !p.Available {
			return domain.Order{}, resilience.InvalidInput(fmt.Errorf("product %d is not available for ordering", p.ID))
		}
		if !p.CanOrder(ir.Quantity) {
			return domain.Order{}, resilience.InvalidInput(fmt.Errorf(
				"invalid quantity for product %d: min %d max %d requested %d",
				p.ID, p.MinOrderQty, p.MaxOrderQty, ir.Quantity))
		}
		if !p.HasStock(ir.Quantity) {
			return domain.Order{}, resilience.InvalidInput(catalogdom.InsufficientStock(p.ID, ir.Quantity, p.Stock))
		}
		if err := o.AddItem(p.ID, p.Name, p.PriceCents, ir.Quantity); err != nil {
			return domain.Order{}, resilience.InvalidInput(err)
		}
	}
	o.CalculateTotals()

	evt := domain.OrderCreated{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		TotalCents:  o.TotalCents,
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt,
	}
	for _, item := range o.Items {
		evt.Items = append(evt.Items, domain.OrderCreatedItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return domain.Order{}, err
	}

	err = s.orders.SaveWithOutbox(ctx, o, outbox.Pending{
		AggregateType: "order",
		AggregateID:   o.ID,
		Topic:         domain.TopicOrderCreated,
		Key:           o.OrderNumber,
		Type:          domain.EventOrderCreated,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order created", "order_id", o.ID, "order_number", o.OrderNumber, "total_cents", o.TotalCents)
	return o, nil
}

func (s *Service) GetByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return s.orders.GetByNumber(ctx, orderNumber)
}

// Ship marks a ready-for-shipment order as shipped. Guard violations surface
// as domain.ErrInvalidTransition.
func (s *Service) Ship(ctx context.Context, orderNumber, trackingNumber string) (domain.Order, error) {
	return s.transition(ctx, orderNumber, func(o *domain.Order) error {
		return o.MarkShipped(trackingNumber)
	})
}

func (s *Service) Deliver(ctx context.Context, orderNumber string) (domain.Order, error) {
	return s.transition(ctx, orderNumber, func(o *domain.Order) error {
		return o.MarkDelivered()
	})
}

// CancelOrder cancels the order and, when stock had already been reserved,
// releases the reserved quantities back to the catalog.
func (s *Service) CancelOrder(ctx context.Context, orderNumber, reason string) (domain.Order, error) {
	var reserved bool
	o, err := s.transition(ctx, orderNumber, func(o *domain.Order) error {
		reserved = o.Status == domain.StatusStockReserved || o.Status == domain.StatusReadyForShipment
		return o.Cancel(reason)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if reserved {
		for _, item := range o.Items {
			if err := s.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
				s.log.Error("stock release failed",
					"order_number", o.OrderNumber, "product_id", item.ProductID, "err", err)
			}
		}
	}
	return o, nil
}

func (s *Service) transition(ctx context.Context, orderNumber string, mutate func(*domain.Order) error) (domain.Order, error) {
	for {
		o, err := s.orders.GetByNumber(ctx, orderNumber)
		if err != nil {
			return domain.Order{}, err
		}
		if err := mutate(&o); err != nil {
			return domain.Order{}, err
		}
		err = s.orders.Update(ctx, &o)
		if errors.Is(err, domain.ErrVersionConflict) {
			// Another handler advanced the order; reload so the guard check
			// re-evaluates against current state.
			continue
		}
		if err != nil {
			return domain.Order{}, err
		}
		return o, nil
	}
}
