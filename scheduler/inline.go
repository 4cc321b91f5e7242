package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pthm-cable/evosim/config"
)

// Inline runs the world on the caller's goroutine. Commands may be sent from
// any goroutine, but Pump must only be called from one.
type Inline struct {
	eng        *engine
	maxCatchUp int

	mu     sync.Mutex
	queue  []Command
	closed bool

	next    time.Time
	pending []Event
	render  int // index of the queued render event, or -1
}

// NewInline builds a degraded-mode runner.
func NewInline(cfg *config.Config, opts Options) (*Inline, error) {
	in := &Inline{render: -1}
	eng, err := newEngine(cfg, opts, in.emit)
	if err != nil {
		return nil, err
	}
	in.eng = eng
	in.maxCatchUp = max(eng.cfg.Scheduler.MaxCatchUp, 1)
	return in, nil
}

// emit queues events until the next Pump returns. Only the latest render
// event is kept.
func (in *Inline) emit(ev Event, droppable bool) {
	if droppable && in.render >= 0 {
		in.pending[in.render] = ev
		return
	}
	if droppable {
		in.render = len(in.pending)
	}
	in.pending = append(in.pending, ev)
}

// Send queues cmd for the next Pump.
func (in *Inline) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd = cloneCommand(cmd)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrClosed
	}
	in.queue = append(in.queue, cmd)
	return nil
}

// Pump applies queued commands and runs the ticks due at now, at most
// MaxCatchUp of them. A runner further behind skips the missed ticks. It
// returns the events produced.
func (in *Inline) Pump(now time.Time) []Event {
	in.mu.Lock()
	cmds := in.queue
	in.queue = nil
	in.mu.Unlock()

	for _, cmd := range cmds {
		if in.eng.apply(cmd) {
			in.next = now
		}
	}

	if !in.eng.running {
		in.next = time.Time{}
	} else {
		if in.next.IsZero() {
			in.next = now
		}
		period := in.eng.period()
		for n := 0; n < in.maxCatchUp && !now.Before(in.next) && in.eng.running; n++ {
			in.eng.tick()
			in.next = in.next.Add(period)
		}
		if !now.Before(in.next) {
			in.next = now.Add(period)
		}
	}

	out := in.pending
	in.pending = nil
	in.render = -1
	return out
}

// Run pumps at the current tick period until ctx is done or the runner closes.
func (in *Inline) Run(ctx context.Context, handle func(Event)) error {
	period := in.eng.period()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		for _, ev := range in.Pump(time.Now()) {
			handle(ev)
		}
		if p := in.eng.period(); p != period {
			period = p
			ticker.Reset(period)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		in.mu.Lock()
		closed := in.closed
		in.mu.Unlock()
		if closed {
			return nil
		}
	}
}

// Close rejects further commands.
func (in *Inline) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.queue = nil
	return nil
}
