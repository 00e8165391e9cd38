package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is the catalog-owned aggregate the stock handler decrements.
// Invariant: Stock >= 0 always; decrements violating this are rejected.
type Product struct {
	ID          int64
	Name        string
	PriceCents  int64
	Stock       int
	Available   bool
	MinOrderQty int
	MaxOrderQty int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

func (p Product) HasStock(qty int) bool {
	return p.Stock >= qty
}

// CanOrder checks the per-product quantity bounds. A zero MaxOrderQty means
// no upper bound.
func (p Product) CanOrder(qty int) bool {
	if qty < p.MinOrderQty && p.MinOrderQty > 0 {
		return false
	}
	if p.MaxOrderQty > 0 && qty > p.MaxOrderQty {
		return false
	}
	return qty > 0
}

// InsufficientStock builds the reservation failure for one product.
func InsufficientStock(productID int64, requested, available int) error {
	return fmt.Errorf("%w: product %d requested %d available %d",
		ErrInsufficientStock, productID, requested, available)
}
