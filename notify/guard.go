package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Default guard settings.
const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

// GuardConfig configures the circuit breaker and rate limit around a
// provider.
type GuardConfig struct {
	// MaxFailures is the number of consecutive failures before the
	// circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`

	// OpenTimeout is how long the circuit stays open before allowing a
	// probe.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// Interval is the cyclic period of the closed state for clearing
	// failure counts. Zero means failures never reset until the circuit
	// opens.
	Interval time.Duration `yaml:"interval"`

	// Rate caps sends per second. Zero means unlimited.
	Rate float64 `yaml:"rate"`

	// Burst is the token bucket size when Rate is set.
	Burst int `yaml:"burst"`
}

// Guard wraps a Notifier with a circuit breaker and a token-bucket rate
// limiter. When the provider fails repeatedly the circuit opens and sends
// fail fast; workflow retry backoff then spaces out the probes.
type Guard struct {
	inner   Notifier
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGuard wraps inner with failure and burst protection. Zero-valued
// config fields fall back to defaults.
func NewGuard(inner Notifier, cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notify",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notifier breaker state change",
				"from", from.String(), "to", to.String())
		},
	})

	return &Guard{inner: inner, breaker: cb, limiter: limiter, logger: logger}
}

// Send implements Notifier. The rate limiter runs first so bursts are
// spread out before the breaker sees them.
func (g *Guard) Send(ctx context.Context, msg Message) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: rate wait: %w", err)
	}
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.inner.Send(ctx, msg)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("notify: provider circuit open: %w", err)
	}
	return err
}

// State returns the current breaker state for monitoring.
func (g *Guard) State() gobreaker.State { return g.breaker.State() }
