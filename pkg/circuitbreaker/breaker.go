package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

type Config struct {
	Name string
	// consecutive failures that open the breaker
	MaxFailures uint32
	// how long the breaker stays open before letting a probe through
	OpenTimeout time.Duration
	// probes allowed while half-open
	HalfOpenRequests uint32
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

func New[T any](cfg Config, log *slog.Logger) *gobreaker.CircuitBreaker[T] {
	if log == nil {
		log = slog.Default()
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
