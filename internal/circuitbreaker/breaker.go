package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultCallTimeout = 3 * time.Second
	defaultMaxFailures = 5
	defaultOpenTimeout = 30 * time.Second
)

type Settings struct {
	Name string
	// CallTimeout bounds every guarded call.
	CallTimeout time.Duration
	// MaxFailures consecutive infrastructure failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Guard wraps persistence calls with a timeout and a circuit breaker. Expected
// conditions (not found, invalid argument, ...) pass through untouched and do
// not count against the breaker; timeouts and transport failures come back as
// domain.ErrUnavailable.
type Guard struct {
	cb      *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
}

func New(s Settings) *Guard {
	if s.CallTimeout <= 0 {
		s.CallTimeout = defaultCallTimeout
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = defaultMaxFailures
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = defaultOpenTimeout
	}
	if s.Name == "" {
		s.Name = "persistence"
	}
	log := s.Logger
	maxFailures := s.MaxFailures

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isExpected(err) || errors.Is(err, context.Canceled)
		},
	})
	return &Guard{cb: cb, timeout: s.CallTimeout}
}

// Do runs fn under the call timeout and the breaker.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return struct{}{}, fn(callCtx)
	})
	return classify(ctx, err)
}

func classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case isExpected(err), errors.Is(err, domain.ErrUnavailable):
		return err
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: call timed out: %w", domain.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
}

func isExpected(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrNotAuthenticated) ||
		errors.Is(err, domain.ErrAlreadyExists) ||
		errors.Is(err, domain.ErrEmptyCart)
}
