package provider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/erenzirekbilek/ecommerce-order-saga/internal/payment/application"
)

// TestDeclineMethod is a payment method marker that is always declined, for
// exercising the failure path end to end.
const TestDeclineMethod = "TEST_DECLINE"

// Simulator is a deterministic stand-in for a real payment provider: charges
// above the configured ceiling or using the test decline method are declined,
// everything else is approved. It honors idempotency keys, returning the
// recorded result for a replayed key instead of charging twice.
type Simulator struct {
	log          *slog.Logger
	declineAbove int64

	mu   sync.Mutex
	seen map[string]application.ChargeResult
}

func NewSimulator(log *slog.Logger, declineAboveCents int64) *Simulator {
	return &Simulator{
		log:          log,
		declineAbove: declineAboveCents,
		seen:         make(map[string]application.ChargeResult),
	}
}

func (s *Simulator) Charge(ctx context.Context, req application.ChargeRequest) (application.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return application.ChargeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.seen[req.IdempotencyKey]; ok {
		s.log.Info("replayed charge, returning recorded result", "idempotency_key", req.IdempotencyKey)
		return res, nil
	}

	res := application.ChargeResult{
		Approved:  true,
		Reference: "SIM-" + req.OrderNumber,
	}
	switch {
	case req.Method == TestDeclineMethod:
		res = application.ChargeResult{
			Approved: false,
			Reason:   "card declined",
		}
	case s.declineAbove > 0 && req.AmountCents > s.declineAbove:
		res = application.ChargeResult{
			Approved: false,
			Reason:   "amount exceeds authorization limit",
		}
	}
	s.seen[req.IdempotencyKey] = res
	return res, nil
}
