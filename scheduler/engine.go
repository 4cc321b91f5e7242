package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/game"
	"github.com/pthm-cable/evosim/population"
	"github.com/pthm-cable/evosim/telemetry"
)

// BasePeriod is the tick period at speed 1.
const BasePeriod = time.Second / 60

var (
	// ErrNotInitialized is reported for commands that need a world before Init.
	ErrNotInitialized = errors.New("simulation not initialized")
	// ErrUnknownCommand is reported for command types the engine does not handle.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidSpeed is reported for non-positive or non-finite speeds.
	ErrInvalidSpeed = errors.New("invalid speed")
)

// emitFunc delivers an event. Droppable events may be discarded when the
// consumer is behind.
type emitFunc func(ev Event, droppable bool)

// engine applies commands, advances the world and emits events. It is not
// safe for concurrent use; each runner confines it to one goroutine.
type engine struct {
	cfg  *config.Config
	opts Options
	log  *slog.Logger
	emit emitFunc

	world   *game.World
	perf    *telemetry.PerfCollector
	running bool
	speed   float64

	schedTicks int64
	overruns   int64
	reported   int64 // overruns already logged

	checkpoint *game.Snapshot

	// beforeTick runs inside the recovery boundary ahead of each world update.
	beforeTick func(w *game.World)
}

func newEngine(cfg *config.Config, opts Options, emit emitFunc) (*engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", game.ErrInvalidConfig)
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &engine{
		cfg:   cfg,
		opts:  opts,
		log:   opts.logger().With("run_id", opts.RunID),
		emit:  emit,
		perf:  telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		speed: cfg.Scheduler.Speed,
	}, nil
}

// period returns the tick interval for the current speed.
func (e *engine) period() time.Duration {
	return periodFor(e.speed)
}

func periodFor(speed float64) time.Duration {
	p := time.Duration(float64(BasePeriod) / speed)
	return max(p, time.Microsecond)
}

// apply handles one command. It reports whether the tick period changed.
func (e *engine) apply(cmd Command) (periodChanged bool) {
	switch c := cmd.(type) {
	case Init:
		e.build(c.Populations, c.World)
	case Reset:
		e.running = false
		e.build(c.Populations, c.World)
	case Start:
		if e.world == nil {
			e.fail(fmt.Errorf("start: %w", ErrNotInitialized))
			return false
		}
		e.running = true
	case Stop:
		e.running = false
	case SetSpeed:
		if c.Speed <= 0 || math.IsNaN(c.Speed) || math.IsInf(c.Speed, 0) {
			e.fail(fmt.Errorf("%w: %v", ErrInvalidSpeed, c.Speed))
			return false
		}
		changed := c.Speed != e.speed
		e.speed = c.Speed
		return changed
	case UpdatePopulations:
		if e.world == nil {
			e.fail(fmt.Errorf("update populations: %w", ErrNotInitialized))
			return false
		}
		if err := e.world.UpdatePopulations(c.Populations); err != nil {
			e.fail(fmt.Errorf("update populations: %w", err))
			return false
		}
		e.cfg.Populations = e.world.Populations()
	case UpdateWorldConfig:
		if e.world == nil {
			e.fail(fmt.Errorf("update world config: %w", ErrNotInitialized))
			return false
		}
		if err := e.world.SetConfig(c.Config); err != nil {
			e.fail(fmt.Errorf("update world config: %w", err))
			return false
		}
		e.cfg.World = c.Config
	case RequestSnapshot:
		if e.world == nil {
			e.fail(fmt.Errorf("snapshot: %w", ErrNotInitialized))
			return false
		}
		e.emit(SnapshotReady{Snapshot: e.snapshot()}, false)
	case LoadSnapshot:
		e.restore(c.Snapshot)
	default:
		e.fail(fmt.Errorf("%w: %T", ErrUnknownCommand, cmd))
	}
	return false
}

// build replaces the world. On error the previous world is discarded too, so
// no partially initialized state survives.
func (e *engine) build(pops []population.Population, wc *config.WorldConfig) {
	cfg := e.cfg.Clone()
	if wc != nil {
		cfg.World = *wc
	}
	w, err := game.NewWorld(cfg, pops)
	if err != nil {
		e.world = nil
		e.running = false
		e.fail(fmt.Errorf("init: %w", err))
		return
	}
	e.cfg.World = cfg.World
	e.cfg.Populations = w.Populations()
	e.install(w)
}

func (e *engine) restore(s *game.Snapshot) {
	w, err := game.Restore(e.cfg, s)
	if err != nil {
		e.fail(fmt.Errorf("load snapshot: %w", err))
		return
	}
	e.cfg.World = s.World
	e.cfg.Populations = w.Populations()
	e.install(w)
	e.running = s.Running
}

func (e *engine) install(w *game.World) {
	w.SetPerf(e.perf)
	e.world = w
	e.schedTicks = 0
	e.checkpoint = nil
	e.log.Info("world initialized",
		"seed", w.Seed(),
		"tick", w.Tick(),
		"organisms", w.AgentCount(),
		"food", w.FoodCount(),
	)
	e.emit(Initialized{Success: true, Tick: w.Tick(), Seed: w.Seed(), Agents: w.AgentCount()}, false)
}

func (e *engine) snapshot() *game.Snapshot {
	s := e.world.Snapshot()
	s.RunID = e.opts.RunID
	s.Running = e.running
	return s
}

func (e *engine) fail(err error) {
	e.log.Error("scheduler error", "err", err)
	e.emit(errorEvent(err), false)
}

// tick advances the world once if running and emits the periodic events.
// A panic inside the world update stops the simulation.
func (e *engine) tick() {
	if !e.running || e.world == nil {
		return
	}
	if e.opts.Rollback {
		e.checkpoint = e.world.Snapshot()
	}

	start := time.Now()
	if err := e.step(); err != nil {
		e.running = false
		if e.checkpoint != nil {
			if w, rerr := game.Restore(e.cfg, e.checkpoint); rerr == nil {
				w.SetPerf(e.perf)
				e.world = w
				e.log.Warn("world rolled back", "tick", w.Tick())
			} else {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
			}
		}
		e.log.Error("scheduler error", "err", err)
		ev := errorEvent(err)
		ev.Halted = true
		e.emit(ev, false)
		return
	}
	elapsed := time.Since(start)
	if elapsed > e.period() {
		e.overruns++
	}

	e.schedTicks++
	tick := e.world.Tick()

	if every := e.cfg.Scheduler.RenderEvery; every > 0 && e.schedTicks%int64(every) == 0 {
		e.emit(RenderData{RenderData: e.world.RenderData()}, true)
	}
	if every := e.cfg.Scheduler.StatsEvery; every > 0 && tick%int64(every) == 0 {
		e.emit(Stats{Stats: e.world.Stats(), Overruns: e.overruns, Perf: e.perf.Stats()}, false)
		e.reportOverruns(tick)
	}
	if every := e.cfg.Simulation.PerfLogInterval; every > 0 && tick%int64(every) == 0 {
		e.log.Info("perf",
			"tick", tick,
			"organisms", e.world.AgentCount(),
			"food", e.world.FoodCount(),
			"update_us", elapsed.Microseconds(),
			"window", e.perf.Stats(),
		)
	}
}

// step runs one world update, converting a panic into an error.
func (e *engine) step() (err error) {
	tick := e.world.Tick() + 1
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok {
				perr = fmt.Errorf("%v", r)
			}
			err = fmt.Errorf("tick %d: %w", tick, perr)
		}
	}()
	if e.beforeTick != nil {
		e.beforeTick(e.world)
	}
	e.world.Update()
	return nil
}

func (e *engine) reportOverruns(tick int64) {
	if n := e.overruns - e.reported; n > 0 {
		e.log.Warn("tick overrun",
			"tick", tick,
			"overruns", n,
			"period_us", e.period().Microseconds(),
		)
		e.reported = e.overruns
	}
}
