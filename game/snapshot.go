package game

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/evosim/components"
	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/population"
	"github.com/pthm-cable/evosim/traits"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// ErrSnapshotVersion is returned when restoring a snapshot of another format version.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot holds the complete simulation state for save and restore.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Seed    int64  `json:"seed"`
	RNG     []byte `json:"rng,omitempty"`
	Tick    int64  `json:"tick"`
	Running bool   `json:"running"`

	World       config.WorldConfig      `json:"world"`
	Populations []population.Population `json:"populations"`

	Agents []AgentState `json:"agents"`
	Food   []FoodState  `json:"food"`

	Stats      Counters `json:"stats"`
	NextID     uint32   `json:"next_id"`
	NextFoodID uint32   `json:"next_food_id"`
}

// AgentState holds one agent's complete state.
type AgentState struct {
	ID           uint32 `json:"id"`
	PopulationID string `json:"population_id"`

	// Position and movement
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	Heading float32 `json:"heading"`
	VelX    float32 `json:"vel_x"`
	VelY    float32 `json:"vel_y"`

	Energy float32       `json:"energy"`
	Age    int32         `json:"age"`
	Traits traits.Traits `json:"traits"`

	// Behavior; TargetID 0 means no target
	TargetID         uint32 `json:"target_id,omitempty"`
	Hunting          bool   `json:"hunting,omitempty"`
	Allies           int32  `json:"allies,omitempty"`
	LastSocialUpdate int32  `json:"last_social_update"`
	LastHuntUpdate   int32  `json:"last_hunt_update"`
}

// FoodState holds one food item.
type FoodState struct {
	ID     uint32  `json:"id"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Energy float32 `json:"energy"`
}

// Snapshot captures the world. The returned value shares no memory with it.
func (w *World) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:     SnapshotVersion,
		Seed:        w.seed,
		Tick:        w.tick,
		World:       w.cfg.World,
		Populations: w.pops.All(),
		Agents:      make([]AgentState, 0, len(w.agents)),
		Food:        make([]FoodState, 0, len(w.food)),
		Stats:       w.counters,
		NextID:      w.nextID,
		NextFoodID:  w.nextFoodID,
	}
	if rng, err := w.pcg.MarshalBinary(); err == nil {
		s.RNG = rng
	}

	for _, e := range w.agents {
		id := w.idMap.Get(e)
		pos := w.posMap.Get(e)
		mo := w.motionMap.Get(e)
		v := w.vitalsMap.Get(e)
		b := w.behaviorMap.Get(e)

		as := AgentState{
			ID:               id.ID,
			PopulationID:     id.PopulationID,
			X:                pos.X,
			Y:                pos.Y,
			Heading:          mo.Heading,
			VelX:             mo.VelX,
			VelY:             mo.VelY,
			Energy:           v.Energy,
			Age:              v.Age,
			Traits:           w.genomeMap.Get(e).Traits,
			Hunting:          b.Hunting,
			Allies:           b.Allies,
			LastSocialUpdate: b.LastSocialUpdate,
			LastHuntUpdate:   b.LastHuntUpdate,
		}
		if b.HasTarget && w.Alive(b.Target) {
			as.TargetID = w.idMap.Get(b.Target).ID
		}
		s.Agents = append(s.Agents, as)
	}

	for _, e := range w.food {
		pos := w.posMap.Get(e)
		f := w.foodMap.Get(e)
		s.Food = append(s.Food, FoodState{ID: f.ID, X: pos.X, Y: pos.Y, Energy: f.Energy})
	}
	return s
}

// Restore rebuilds a world from a snapshot. Engine settings (behavior
// constants, cell sizes, ceilings) come from cfg; world dimensions and
// populations come from the snapshot.
func Restore(cfg *config.Config, s *Snapshot) (*World, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidConfig)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	c := cfg.Clone()
	c.World = s.World

	w, err := newEmptyWorld(c, s.Populations, s.Seed)
	if err != nil {
		return nil, err
	}
	if len(s.RNG) > 0 {
		if err := w.pcg.UnmarshalBinary(s.RNG); err != nil {
			return nil, fmt.Errorf("restoring rng state: %w", err)
		}
	}

	byID := make(map[uint32]ecs.Entity, len(s.Agents))
	for _, as := range s.Agents {
		if _, dup := byID[as.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate agent id %d", ErrInvalidConfig, as.ID)
		}
		if err := as.Traits.Validate(); err != nil {
			return nil, fmt.Errorf("%w: agent %d: %w", ErrInvalidConfig, as.ID, err)
		}
		if math.IsNaN(float64(as.Energy)) {
			return nil, fmt.Errorf("%w: agent %d: energy is NaN", ErrInvalidConfig, as.ID)
		}
		as.Traits = as.Traits.Clamp(w.bounds)
		as.Energy = max(0, min(as.Energy, as.Traits.MaxEnergy))

		ident := components.Identity{ID: as.ID, PopulationID: as.PopulationID}
		pos := components.Position{X: as.X, Y: as.Y}
		mo := components.Motion{Heading: as.Heading, VelX: as.VelX, VelY: as.VelY}
		v := components.Vitals{Energy: as.Energy, Age: as.Age, Alive: true}
		g := components.Genome{Traits: as.Traits}
		b := components.Behavior{
			Hunting:          as.Hunting,
			Allies:           as.Allies,
			LastSocialUpdate: as.LastSocialUpdate,
			LastHuntUpdate:   as.LastHuntUpdate,
		}
		w.wrapPosition(&pos)
		e := w.agentMapper.NewEntity(&ident, &pos, &mo, &v, &g, &b)
		w.agents = append(w.agents, e)
		byID[as.ID] = e
	}
	for i, as := range s.Agents {
		if as.TargetID == 0 {
			continue
		}
		if t, ok := byID[as.TargetID]; ok {
			b := w.behaviorMap.Get(w.agents[i])
			b.Target = t
			b.HasTarget = true
		}
	}

	for _, fs := range s.Food {
		pos := components.Position{X: fs.X, Y: fs.Y}
		f := components.Food{ID: fs.ID, Energy: fs.Energy}
		w.wrapPosition(&pos)
		e := w.foodMapper.NewEntity(&pos, &f)
		w.food = append(w.food, e)
	}

	w.tick = s.Tick
	w.counters = s.Stats
	w.last = s.Stats
	w.nextID = max(s.NextID, 1)
	w.nextFoodID = max(s.NextFoodID, 1)
	w.recount()
	return w, nil
}

// Clone returns a deep copy of s. A nil snapshot clones to nil.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.RNG = slices.Clone(s.RNG)
	c.Populations = population.Clone(s.Populations)
	c.Agents = slices.Clone(s.Agents)
	c.Food = slices.Clone(s.Food)
	return &c
}
