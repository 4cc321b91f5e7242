// Package scheduler runs a simulation world at a fixed cadence and talks to
// its consumer through commands and events.
//
// A Background runner owns the world on its own goroutine. An Inline runner
// is the degraded mode: the caller drives ticks from its own loop via Pump.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pthm-cable/evosim/config"
)

// ErrClosed is returned by Send after the runner is closed.
var ErrClosed = errors.New("scheduler closed")

// Runner is the consumer-facing side of a scheduler.
type Runner interface {
	// Send queues a command. Payloads are copied before Send returns.
	Send(ctx context.Context, cmd Command) error
	// Run delivers events to handle until ctx is done or the runner closes.
	Run(ctx context.Context, handle func(Event)) error
	// Close stops the runner and releases its resources.
	Close() error
}

// Options tune a runner beyond what the config file carries.
type Options struct {
	// Rollback restores the world to its pre-tick state when a tick fails.
	Rollback bool
	// Inline forces degraded mode.
	Inline bool
	// RunID is stamped on snapshots and log lines.
	RunID string
	// StartTimeout bounds how long Open waits for the background worker.
	StartTimeout time.Duration
	Logger       *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) startTimeout() time.Duration {
	if o.StartTimeout > 0 {
		return o.StartTimeout
	}
	return time.Second
}

// Open starts a background runner, falling back to an inline runner when
// background mode is disabled or the worker cannot start.
func Open(ctx context.Context, cfg *config.Config, opts Options) (Runner, error) {
	if cfg == nil {
		return nil, errors.New("scheduler: nil config")
	}
	opts.Rollback = opts.Rollback || cfg.Scheduler.Rollback
	if cfg.Scheduler.Background && !opts.Inline {
		b, err := NewBackground(ctx, cfg, opts)
		if err == nil {
			return b, nil
		}
		if errors.Is(err, config.ErrInvalid) {
			return nil, err
		}
		opts.logger().Warn("background scheduler unavailable, running inline", "err", err)
	}
	in, err := NewInline(cfg, opts)
	if err != nil {
		return nil, err
	}
	return in, nil
}
