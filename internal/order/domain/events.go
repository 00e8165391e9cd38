package domain

import "time"

// Saga topics. Events are keyed by order number so that one order's events
// share a partition and arrive in publish order.
const (
	TopicOrderCreated           = "order-created"
	TopicPaymentSuccess         = "payment-success"
	TopicPaymentFailed          = "payment-failed"
	TopicStockReserved          = "stock-reserved"
	TopicStockReservationFailed = "stock-reservation-failed"
)

// DLT returns the paired dead-letter topic.
func DLT(topic string) string { return topic + ".DLT" }

const (
	EventOrderCreated           = "OrderCreated"
	EventPaymentSuccess         = "PaymentSuccess"
	EventPaymentFailed          = "PaymentFailed"
	EventStockReserved          = "StockReserved"
	EventStockReservationFailed = "StockReservationFailed"
)

type OrderCreated struct {
	OrderID     string             `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	UserID      int64              `json:"user_id"`
	TotalCents  int64              `json:"total_cents"`
	Currency    string             `json:"currency"`
	Items       []OrderCreatedItem `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
}

type OrderCreatedItem struct {
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type PaymentSuccess struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserID        int64     `json:"user_id"`
	TotalCents    int64     `json:"total_cents"`
	PaymentMethod string    `json:"payment_method"`
	PaidAt        time.Time `json:"paid_at"`
}

type PaymentFailed struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      int64     `json:"user_id"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}

type StockReserved struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      int64       `json:"user_id"`
	Items       []StockItem `json:"items"`
	ReservedAt  time.Time   `json:"reserved_at"`
}

type StockItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type StockReservationFailed struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      int64     `json:"user_id"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}
