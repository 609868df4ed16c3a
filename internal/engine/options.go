package engine

import (
	"log/slog"

	"github.com/roach88/weave/internal/backoff"
	"github.com/roach88/weave/internal/config"
)

// Option configures an Engine.
type Option func(*Engine)

// WithID sets the lock owner id. Default: a fresh UUIDv7.
func WithID(id string) Option {
	return func(e *Engine) {
		e.id = id
	}
}

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithListener adds an execution listener. Listeners are called in the
// order they were added.
func WithListener(l ExecutionListener) Option {
	return func(e *Engine) {
		e.listeners = append(e.listeners, l)
	}
}

// WithRegistry sets the activity behavior registry.
// Default: DefaultRegistry().
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithLockRetry sets how lock contention is retried.
//
// Default: DefaultLockAttempts tries with backoff.Default() between them.
// Use WithLockRetry(1, nil) to fail fast in tests.
func WithLockRetry(attempts int, strategy backoff.Strategy) Option {
	return func(e *Engine) {
		e.lockAttempts = attempts
		if strategy != nil {
			e.lockBackoff = strategy
		}
	}
}

// WithMaxSteps sets the maximum activity executions per drain.
//
// Default: 10000 (DefaultMaxSteps). Zero disables the limit.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithAsyncWorkers bounds concurrent async behaviors.
// Default: DefaultAsyncWorkers.
func WithAsyncWorkers(n int) Option {
	return func(e *Engine) {
		e.asyncWorkers = n
	}
}

// FromConfig turns the engine and lock sections of a configuration into
// options. Zero values keep the defaults.
func FromConfig(cfg *config.Config) []Option {
	var opts []Option
	if cfg.Engine.ID != "" {
		opts = append(opts, WithID(cfg.Engine.ID))
	}
	if cfg.Engine.MaxSteps > 0 {
		opts = append(opts, WithMaxSteps(cfg.Engine.MaxSteps))
	}
	if cfg.Engine.AsyncWorkers > 0 {
		opts = append(opts, WithAsyncWorkers(cfg.Engine.AsyncWorkers))
	}
	if cfg.Lock.MaxAttempts > 0 {
		var strategy backoff.Strategy
		if cfg.Lock.InitialBackoff > 0 {
			strategy = backoff.ExponentialWithJitter{
				Initial: cfg.Lock.InitialBackoff,
				Max:     cfg.Lock.MaxBackoff,
			}
		}
		opts = append(opts, WithLockRetry(cfg.Lock.MaxAttempts, strategy))
	}
	return opts
}
