package resilience

import "time"

// Policy parameterizes one stage's circuit breaker and retry behavior.
type Policy struct {
	Name string

	// Breaker settings. The breaker trips once at least MinCalls calls were
	// observed in the current counting window and the failure rate reaches
	// FailureRateThreshold. Slow calls count as failures even when they
	// succeed.
	FailureRateThreshold float64
	MinCalls             uint32
	OpenDuration         time.Duration
	HalfOpenCalls        uint32
	SlowCallThreshold    time.Duration

	// Retry settings. MaxAttempts includes the first call.
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffFactor     float64
	RandomizedBackoff bool
}

// Stage names.
const (
	StageOrderCreation       = "orderCreation"
	StagePaymentProcessing   = "paymentProcessing"
	StageStockReservation    = "stockReservation"
	StageShipmentPreparation = "shipmentPreparation"
	StageCompensation        = "compensation"
)

// Policies returns the per-stage policy map. Built once at process start and
// injected by reference; there is no ambient registry.
func Policies() map[string]Policy {
	return map[string]Policy{
		StageOrderCreation: {
			Name:                 StageOrderCreation,
			FailureRateThreshold: 0.50,
			MinCalls:             10,
			OpenDuration:         30 * time.Second,
			HalfOpenCalls:        3,
			SlowCallThreshold:    2 * time.Second,
			MaxAttempts:          3,
			BackoffBase:          500 * time.Millisecond,
			BackoffFactor:        2,
		},
		StagePaymentProcessing: {
			Name:                 StagePaymentProcessing,
			FailureRateThreshold: 0.60,
			MinCalls:             10,
			OpenDuration:         15 * time.Second,
			HalfOpenCalls:        5,
			SlowCallThreshold:    time.Second,
			MaxAttempts:          5,
			BackoffBase:          300 * time.Millisecond,
			BackoffFactor:        1.5,
			RandomizedBackoff:    true,
		},
		StageStockReservation: {
			Name:                 StageStockReservation,
			FailureRateThreshold: 0.60,
			MinCalls:             10,
			OpenDuration:         15 * time.Second,
			HalfOpenCalls:        5,
			SlowCallThreshold:    time.Second,
			MaxAttempts:          5,
			BackoffBase:          300 * time.Millisecond,
			BackoffFactor:        1.5,
			RandomizedBackoff:    true,
		},
		StageShipmentPreparation: {
			Name:                 StageShipmentPreparation,
			FailureRateThreshold: 0.50,
			MinCalls:             10,
			OpenDuration:         10 * time.Second,
			HalfOpenCalls:        3,
			SlowCallThreshold:    2 * time.Second,
			MaxAttempts:          3,
			BackoffBase:          500 * time.Millisecond,
			BackoffFactor:        2,
		},
		StageCompensation: {
			Name:                 StageCompensation,
			FailureRateThreshold: 0.50,
			MinCalls:             10,
			OpenDuration:         10 * time.Second,
			HalfOpenCalls:        3,
			SlowCallThreshold:    2 * time.Second,
			MaxAttempts:          3,
			BackoffBase:          500 * time.Millisecond,
			BackoffFactor:        2,
		},
	}
}
