package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pthm-cable/evosim/config"
)

// Background owns a world on a dedicated goroutine driven by a ticker.
type Background struct {
	eng    *engine
	cmds   chan Command
	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	dropped int64
}

// NewBackground starts the worker goroutine and waits for it to report ready.
func NewBackground(ctx context.Context, cfg *config.Config, opts Options) (*Background, error) {
	b := &Background{
		cmds: make(chan Command, 16),
		done: make(chan struct{}),
	}
	eng, err := newEngine(cfg, opts, b.emit)
	if err != nil {
		return nil, err
	}
	b.eng = eng
	b.events = make(chan Event, max(eng.cfg.Scheduler.EventBuffer, 1))
	b.ctx, b.cancel = context.WithCancel(ctx)

	ready := make(chan struct{})
	b.wg.Add(1)
	go b.loop(ready)

	select {
	case <-ready:
		return b, nil
	case <-time.After(opts.startTimeout()):
		b.Close()
		return nil, fmt.Errorf("scheduler worker did not start within %v", opts.startTimeout())
	}
}

func (b *Background) loop(ready chan<- struct{}) {
	defer b.wg.Done()
	defer close(b.events)
	defer close(b.done)

	ticker := time.NewTicker(b.eng.period())
	defer ticker.Stop()
	close(ready)

	for {
		select {
		case <-b.ctx.Done():
			return
		case cmd := <-b.cmds:
			if b.eng.apply(cmd) {
				ticker.Reset(b.eng.period())
			}
		case <-ticker.C:
			b.eng.tick()
		}
	}
}

// emit runs on the worker goroutine. Droppable events never block.
func (b *Background) emit(ev Event, droppable bool) {
	if droppable {
		select {
		case b.events <- ev:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
		return
	}
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}

// Send queues cmd for the worker.
func (b *Background) Send(ctx context.Context, cmd Command) error {
	cmd = cloneCommand(cmd)
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.cmds <- cmd:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the event stream. It is closed when the worker exits.
func (b *Background) Events() <-chan Event {
	return b.events
}

// Run delivers events to handle until ctx is done or the runner closes.
func (b *Background) Run(ctx context.Context, handle func(Event)) error {
	for {
		select {
		case ev, ok := <-b.events:
			if !ok {
				return nil
			}
			handle(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dropped returns how many render events were discarded because the
// consumer was behind.
func (b *Background) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops the worker and waits for it to exit. It is safe to call more
// than once.
func (b *Background) Close() error {
	b.once.Do(func() {
		b.cancel()
		b.wg.Wait()
	})
	return nil
}
