// Package game owns the simulation world and advances it one tick at a time.
package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/evosim/components"
	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/population"
	"github.com/pthm-cable/evosim/systems"
	"github.com/pthm-cable/evosim/traits"
)

// ErrInvalidConfig is returned when a world cannot be built from the given settings.
var ErrInvalidConfig = errors.New("invalid world config")

// PhaseTimer receives per-phase timing for each tick.
type PhaseTimer interface {
	StartTick()
	StartPhase(name string)
	EndTick()
}

// Tick phase names reported to a PhaseTimer.
const (
	PhaseSpatialIndex = "spatial_index"
	PhaseAgents       = "agents"
	PhaseCleanup      = "cleanup"
	PhaseFood         = "food"
	PhaseReproduction = "reproduction"
	PhaseCensus       = "census"
)

// birth is an offspring queued during the agent pass and admitted after compaction.
type birth struct {
	populationID string
	traits       traits.Traits
	x, y         float32
	heading      float32
}

// World holds the complete simulation state.
type World struct {
	cfg    *config.Config
	rules  systems.Rules
	bounds traits.Bounds
	pops   *population.Registry
	seed   int64
	pcg    *rand.PCG
	rng    *rand.Rand

	world *ecs.World

	// Entity mappers
	agentMapper *ecs.Map6[
		components.Identity,
		components.Position,
		components.Motion,
		components.Vitals,
		components.Genome,
		components.Behavior,
	]
	foodMapper *ecs.Map2[components.Position, components.Food]
	censusFilter *ecs.Filter4[
		components.Identity,
		components.Vitals,
		components.Genome,
		components.Behavior,
	]

	// Individual component mappers for lookups
	idMap       *ecs.Map[components.Identity]
	posMap      *ecs.Map[components.Position]
	motionMap   *ecs.Map[components.Motion]
	vitalsMap   *ecs.Map[components.Vitals]
	genomeMap   *ecs.Map[components.Genome]
	behaviorMap *ecs.Map[components.Behavior]
	foodMap     *ecs.Map[components.Food]

	// Insertion-ordered containers; ark iteration order is not stable.
	agents []ecs.Entity
	food   []ecs.Entity

	agentIndex *systems.SpatialIndex[ecs.Entity]
	foodIndex  *systems.SpatialIndex[ecs.Entity]

	births   []birth
	nbuf     []ecs.Entity
	fbuf     []ecs.Entity
	perf     PhaseTimer
	counts   map[string]int
	counters Counters
	last     Counters // counters at the start of the current tick

	width, height float32
	tick          int64
	nextID        uint32
	nextFoodID    uint32
}

// NewWorld builds a world from cfg and seeds it with pops. A nil pops uses
// cfg.Populations. A zero seed in cfg is replaced by one derived from the clock.
func NewWorld(cfg *config.Config, pops []population.Population) (*World, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	w, err := newEmptyWorld(cfg, pops, cfg.Simulation.Seed)
	if err != nil {
		return nil, err
	}
	w.seedAgents()
	w.seedFood()
	w.recount()
	return w, nil
}

func newEmptyWorld(cfg *config.Config, pops []population.Population, seed int64) (*World, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	cfg = cfg.Clone()
	if pops != nil {
		cfg.Populations = population.Clone(pops)
	}
	if err := cfg.World.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Simulation.AgentCellSize <= 0 || cfg.Simulation.FoodCellSize <= 0 {
		return nil, fmt.Errorf("%w: cell sizes must be positive", ErrInvalidConfig)
	}
	bounds := cfg.Derived.Bounds
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	reg, err := population.NewRegistry(cfg.Populations, bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	cfg.Simulation.Seed = seed

	world := ecs.NewWorld()
	pcg := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)

	w := &World{
		cfg:    cfg,
		rules:  systems.NewRules(cfg.Behavior),
		bounds: bounds,
		pops:   reg,
		seed:   seed,
		pcg:    pcg,
		rng:    rand.New(pcg),
		world:  world,

		agentMapper: ecs.NewMap6[
			components.Identity,
			components.Position,
			components.Motion,
			components.Vitals,
			components.Genome,
			components.Behavior,
		](world),
		foodMapper: ecs.NewMap2[components.Position, components.Food](world),
		censusFilter: ecs.NewFilter4[
			components.Identity,
			components.Vitals,
			components.Genome,
			components.Behavior,
		](world),

		idMap:       ecs.NewMap[components.Identity](world),
		posMap:      ecs.NewMap[components.Position](world),
		motionMap:   ecs.NewMap[components.Motion](world),
		vitalsMap:   ecs.NewMap[components.Vitals](world),
		genomeMap:   ecs.NewMap[components.Genome](world),
		behaviorMap: ecs.NewMap[components.Behavior](world),
		foodMap:     ecs.NewMap[components.Food](world),

		agentIndex: systems.NewSpatialIndex[ecs.Entity](float32(cfg.Simulation.AgentCellSize)),
		foodIndex:  systems.NewSpatialIndex[ecs.Entity](float32(cfg.Simulation.FoodCellSize)),
		counts:     make(map[string]int),

		width:      float32(cfg.World.Width),
		height:     float32(cfg.World.Height),
		nextID:     1,
		nextFoodID: 1,
	}
	return w, nil
}

// SetPerf attaches a phase timer. Pass nil to disable timing.
func (w *World) SetPerf(p PhaseTimer) {
	w.perf = p
}

// Tick returns the number of completed ticks.
func (w *World) Tick() int64 { return w.tick }

// Seed returns the RNG seed the world was built with.
func (w *World) Seed() int64 { return w.seed }

// AgentCount returns the number of live agents.
func (w *World) AgentCount() int { return len(w.agents) }

// FoodCount returns the number of available food items.
func (w *World) FoodCount() int { return len(w.food) }

// Config returns a copy of the world's configuration.
func (w *World) Config() *config.Config { return w.cfg.Clone() }

// Populations returns the current population templates.
func (w *World) Populations() []population.Population { return w.pops.All() }

// Alive reports whether e is a live agent.
func (w *World) Alive(e ecs.Entity) bool {
	if !w.world.Alive(e) || !w.vitalsMap.Has(e) {
		return false
	}
	return w.vitalsMap.Get(e).Alive
}

// SetConfig applies new world dimensions and food tunables. Existing
// positions are wrapped into the new bounds and surplus food is left to be
// eaten rather than removed.
func (w *World) SetConfig(wc config.WorldConfig) error {
	if err := wc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	w.cfg.World = wc
	w.width = float32(wc.Width)
	w.height = float32(wc.Height)
	for _, e := range w.agents {
		w.wrapPosition(w.posMap.Get(e))
	}
	for _, e := range w.food {
		w.wrapPosition(w.posMap.Get(e))
	}
	return nil
}

// UpdatePopulations replaces the population templates. Live agents of a
// matching population take the new trait vector and have their energy
// clamped to the new maximum. Agents of populations missing from pops keep
// their traits.
func (w *World) UpdatePopulations(pops []population.Population) error {
	reg, err := population.NewRegistry(pops, w.bounds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	w.pops = reg
	w.cfg.Populations = reg.All()
	for _, e := range w.agents {
		id := w.idMap.Get(e)
		p, ok := reg.Get(id.PopulationID)
		if !ok {
			continue
		}
		g := w.genomeMap.Get(e)
		g.Traits = p.DefaultTraits
		v := w.vitalsMap.Get(e)
		v.Energy = min(v.Energy, g.Traits.MaxEnergy)
	}
	w.recount()
	return nil
}

func (w *World) wrapPosition(p *components.Position) {
	p.X = systems.Wrap(p.X, w.width)
	p.Y = systems.Wrap(p.Y, w.height)
}
