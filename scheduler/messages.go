package scheduler

import (
	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/game"
	"github.com/pthm-cable/evosim/population"
	"github.com/pthm-cable/evosim/telemetry"
)

// Command is a request sent to a runner. Commands are applied between ticks.
type Command interface {
	command()
}

// Init builds a new world. Nil fields fall back to the runner's config.
type Init struct {
	Populations []population.Population
	World       *config.WorldConfig
}

// Start begins ticking.
type Start struct{}

// Stop pauses ticking at the next tick boundary.
type Stop struct{}

// Reset stops the simulation and rebuilds the world.
type Reset struct {
	Populations []population.Population
	World       *config.WorldConfig
}

// SetSpeed changes the tick period to (1000ms / 60) / Speed.
type SetSpeed struct {
	Speed float64
}

// UpdatePopulations replaces the trait vectors of live agents by population.
type UpdatePopulations struct {
	Populations []population.Population
}

// UpdateWorldConfig replaces the world dimensions and food tunables.
type UpdateWorldConfig struct {
	Config config.WorldConfig
}

// RequestSnapshot asks for a SnapshotReady event with the full world state.
type RequestSnapshot struct{}

// LoadSnapshot replaces the world with a restored snapshot.
type LoadSnapshot struct {
	Snapshot *game.Snapshot
}

func (Init) command()              {}
func (Start) command()             {}
func (Stop) command()              {}
func (Reset) command()             {}
func (SetSpeed) command()          {}
func (UpdatePopulations) command() {}
func (UpdateWorldConfig) command() {}
func (RequestSnapshot) command()   {}
func (LoadSnapshot) command()      {}

// cloneCommand copies every reference-typed payload so the caller may reuse
// its values after sending.
func cloneCommand(cmd Command) Command {
	switch c := cmd.(type) {
	case Init:
		c.Populations = population.Clone(c.Populations)
		c.World = cloneWorld(c.World)
		return c
	case Reset:
		c.Populations = population.Clone(c.Populations)
		c.World = cloneWorld(c.World)
		return c
	case UpdatePopulations:
		c.Populations = population.Clone(c.Populations)
		return c
	case LoadSnapshot:
		c.Snapshot = c.Snapshot.Clone()
		return c
	}
	return cmd
}

func cloneWorld(w *config.WorldConfig) *config.WorldConfig {
	if w == nil {
		return nil
	}
	c := *w
	return &c
}

// Event is a message emitted by a runner.
type Event interface {
	event()
}

// Initialized reports that a world was built by Init, Reset or LoadSnapshot.
type Initialized struct {
	Success bool
	Tick    int64
	Seed    int64
	Agents  int
}

// RenderData is a render snapshot. Runners drop it when the consumer is behind.
type RenderData struct {
	game.RenderData
}

// Stats carries aggregate statistics every StatsEvery world ticks.
type Stats struct {
	game.Stats
	Overruns int64 // ticks slower than the period, cumulative
	Perf     telemetry.PerfStats
}

// Error reports a rejected command or a failed tick.
type Error struct {
	Message string
	Err     error
	Halted  bool // a tick failed and the simulation stopped
}

// SnapshotReady answers RequestSnapshot.
type SnapshotReady struct {
	Snapshot *game.Snapshot
}

func (Initialized) event()   {}
func (RenderData) event()    {}
func (Stats) event()         {}
func (Error) event()         {}
func (SnapshotReady) event() {}

func errorEvent(err error) Error {
	return Error{Message: err.Error(), Err: err}
}
