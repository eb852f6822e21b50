package keyprovider

import (
	"context"
	"crypto/rsa"
	"errors"

	"github.com/sony/gobreaker"
	"github.com/zoobzio/veil"
	"go.uber.org/zap"
)

// Breaker stops calling a failing provider for a while. It opens after
// MaxFailures consecutive failures and probes again after Timeout. Missing
// keys count as successes.
type Breaker struct {
	next veil.KeyProvider
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(next veil.KeyProvider, cfg veil.BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	name := nameOf(next)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrKeyNotFound) || errors.Is(err, veil.ErrInvalidKey)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("key provider breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// FetchPrivateKey forwards to the wrapped provider unless the breaker is open.
func (b *Breaker) FetchPrivateKey(ctx context.Context, publicKey string) (*rsa.PrivateKey, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.FetchPrivateKey(ctx, publicKey)
	})
	if err != nil {
		return nil, err
	}
	return res.(*rsa.PrivateKey), nil
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Name reports the wrapped provider.
func (b *Breaker) Name() string { return nameOf(b.next) }
