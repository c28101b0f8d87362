package pricing

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/wheelhouse/internal/detector"
)

// MarketDataSource is the combined surface a brokerage client exposes.
type MarketDataSource interface {
	QuoteSource
	detector.PositionSource
}

// CircuitBreakerSource wraps a MarketDataSource with circuit breaker
// functionality so a flapping data provider fails fast instead of piling up
// slow requests.
type CircuitBreakerSource struct {
	source  MarketDataSource
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// execBreaker is a generic helper for circuit breaker wrapper methods
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	source MarketDataSource,
	fn func(MarketDataSource) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(source) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerSource creates a CircuitBreakerSource with sensible defaults
func NewCircuitBreakerSource(source MarketDataSource) *CircuitBreakerSource {
	return NewCircuitBreakerSourceWithSettings(source, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerSourceWithSettings creates a CircuitBreakerSource with custom settings
func NewCircuitBreakerSourceWithSettings(source MarketDataSource, settings CircuitBreakerSettings) *CircuitBreakerSource {
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetQuote wraps the underlying source call with circuit breaker
func (c *CircuitBreakerSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execBreaker(c.breaker, c.source, func(s MarketDataSource) (*Quote, error) {
		return s.GetQuote(ctx, symbol)
	})
}

// ListActivePositions wraps the underlying source call with circuit breaker
func (c *CircuitBreakerSource) ListActivePositions(ctx context.Context, accountID string, tickers []string) ([]detector.BrokeragePosition, error) {
	return execBreaker(c.breaker, c.source, func(s MarketDataSource) ([]detector.BrokeragePosition, error) {
		return s.ListActivePositions(ctx, accountID, tickers)
	})
}

// Ensure CircuitBreakerSource implements MarketDataSource
var _ MarketDataSource = (*CircuitBreakerSource)(nil)
