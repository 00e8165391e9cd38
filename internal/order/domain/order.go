package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusAwaitingPayment        OrderStatus = "AWAITING_PAYMENT"
	StatusPaymentConfirmed       OrderStatus = "PAYMENT_CONFIRMED"
	StatusStockReserved          OrderStatus = "STOCK_RESERVED"
	StatusReadyForShipment       OrderStatus = "READY_FOR_SHIPMENT"
	StatusShipped                OrderStatus = "SHIPPED"
	StatusDelivered              OrderStatus = "DELIVERED"
	StatusCancelled              OrderStatus = "CANCELLED"
	StatusPaymentFailed          OrderStatus = "PAYMENT_FAILED"
	StatusStockReservationFailed OrderStatus = "STOCK_RESERVATION_FAILED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailedSt PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type ShippingStatus string

const (
	ShippingNotShipped ShippingStatus = "NOT_SHIPPED"
	ShippingShipped    ShippingStatus = "SHIPPED"
	ShippingDelivered  ShippingStatus = "DELIVERED"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
)

// Order is the aggregate root of the fulfillment saga. Status moves through a
// strict partial order guarded by the Mark* methods; every write goes through
// a compare-and-swap on Version.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          int64
	Items           []OrderItem
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	ShippingStatus  ShippingStatus
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	TotalCents      int64
	Currency        string
	PaymentMethod   string
	ShippingAddress string
	BillingAddress  string
	PhoneNumber     string
	TrackingNumber  string
	CancelReason    string
	RefundOwed      bool
	PaidAt          *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
}

// OrderItem snapshots the unit price at order-creation time; later catalog
// price changes never alter a placed order.
type OrderItem struct {
	ProductID      int64
	ProductName    string
	Quantity       int
	UnitPriceCents int64
}

func (i OrderItem) SubtotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

func NewOrder(userID int64) Order {
	now := time.Now().UTC()
	return Order{
		ID:             uuid.NewString(),
		OrderNumber:    NewOrderNumber(),
		UserID:         userID,
		Status:         StatusAwaitingPayment,
		PaymentStatus:  PaymentPending,
		ShippingStatus: ShippingNotShipped,
		Currency:       "TRY",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewOrderNumber builds a human-readable unique number, e.g. ORD-58214370-9F3C21AB.
func NewOrderNumber() string {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	rand := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", ts[len(ts)-8:], rand)
}

func (o *Order) AddItem(productID int64, name string, unitPriceCents int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	for idx := range o.Items {
		if o.Items[idx].ProductID == productID {
			o.Items[idx].Quantity += quantity
			return nil
		}
	}
	o.Items = append(o.Items, OrderItem{
		ProductID:      productID,
		ProductName:    name,
		Quantity:       quantity,
		UnitPriceCents: unitPriceCents,
	})
	return nil
}

// CalculateTotals recomputes all monetary totals from line items. Totals are
// never mutated independently.
func (o *Order) CalculateTotals() {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.SubtotalCents()
	}
	o.SubtotalCents = subtotal
	o.TotalCents = subtotal + o.TaxCents + o.ShippingCents
}

// Terminal reports whether the order has reached a state it can never leave.
func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusDelivered, StatusCancelled, StatusPaymentFailed, StatusStockReservationFailed:
		return true
	}
	return false
}

func (o *Order) MarkPaid(method string) error {
	if o.Status != StatusAwaitingPayment || o.PaymentStatus != PaymentPending {
		return o.transitionErr("mark paid")
	}
	now := time.Now().UTC()
	o.PaymentStatus = PaymentPaid
	o.PaidAt = &now
	if method != "" {
		o.PaymentMethod = method
	}
	o.Status = StatusPaymentConfirmed
	return nil
}

func (o *Order) MarkPaymentFailed() error {
	if o.Status != StatusAwaitingPayment {
		return o.transitionErr("mark payment failed")
	}
	o.PaymentStatus = PaymentFailedSt
	o.Status = StatusPaymentFailed
	return nil
}

func (o *Order) MarkStockReserved() error {
	if o.Status != StatusPaymentConfirmed || o.PaymentStatus != PaymentPaid {
		return o.transitionErr("mark stock reserved")
	}
	o.Status = StatusStockReserved
	return nil
}

func (o *Order) MarkStockReservationFailed() error {
	if o.Status != StatusPaymentConfirmed {
		return o.transitionErr("mark stock reservation failed")
	}
	o.Status = StatusStockReservationFailed
	return nil
}

func (o *Order) MarkReadyForShipment() error {
	if o.Status != StatusStockReserved {
		return o.transitionErr("mark ready for shipment")
	}
	o.Status = StatusReadyForShipment
	return nil
}

func (o *Order) MarkShipped(trackingNumber string) error {
	if o.Status != StatusReadyForShipment {
		return o.transitionErr("ship")
	}
	o.ShippingStatus = ShippingShipped
	o.TrackingNumber = trackingNumber
	o.Status = StatusShipped
	return nil
}

func (o *Order) MarkDelivered() error {
	if o.ShippingStatus != ShippingShipped {
		return o.transitionErr("deliver")
	}
	o.ShippingStatus = ShippingDelivered
	o.Status = StatusDelivered
	return nil
}

// Cancel drives the order to CANCELLED. Refused once the order has shipped,
// been delivered, or is already cancelled; callers handling redelivered
// failure events must check for CANCELLED first and no-op.
func (o *Order) Cancel(reason string) error {
	if o.Status == StatusShipped || o.Status == StatusDelivered ||
		o.ShippingStatus == ShippingShipped || o.ShippingStatus == ShippingDelivered ||
		o.Status == StatusCancelled {
		return o.transitionErr("cancel")
	}
	now := time.Now().UTC()
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.CancelledAt = &now
	return nil
}

func (o *Order) transitionErr(op string) error {
	return fmt.Errorf("%w: cannot %s order %s in status %s (payment %s, shipping %s)",
		ErrInvalidTransition, op, o.OrderNumber, o.Status, o.PaymentStatus, o.ShippingStatus)
}
