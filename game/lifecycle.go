package game

import (
	"math"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/evosim/components"
	"github.com/pthm-cable/evosim/systems"
	"github.com/pthm-cable/evosim/traits"
)

// seedAgents spawns every population's initial cohort in registry order.
func (w *World) seedAgents() {
	maxPop := w.cfg.Simulation.MaxPopulation
	for _, p := range w.pops.All() {
		for i := 0; i < p.InitialCount && len(w.agents) < maxPop; i++ {
			x := w.rng.Float32() * w.width
			y := w.rng.Float32() * w.height
			heading := systems.RandomHeading(w.rng)
			w.spawnAgent(p.ID, p.DefaultTraits, x, y, heading, w.rules.InitialEnergy(p.DefaultTraits))
		}
	}
}

// seedFood places the initial food, capped by the food maximum.
func (w *World) seedFood() {
	n := min(w.cfg.World.InitialFood, w.cfg.World.MaxFoodCount)
	for i := 0; i < n; i++ {
		w.spawnRandomFood()
	}
}

// spawnAgent creates a new agent entity and appends it to the ordered list.
func (w *World) spawnAgent(popID string, tr traits.Traits, x, y, heading, energy float32) ecs.Entity {
	id := w.nextID
	w.nextID++

	ident := components.Identity{ID: id, PopulationID: popID}
	pos := components.Position{X: systems.Wrap(x, w.width), Y: systems.Wrap(y, w.height)}
	motion := components.Motion{Heading: heading}
	vitals := components.Vitals{Energy: min(energy, tr.MaxEnergy), Alive: true}
	genome := components.Genome{Traits: tr}
	behavior := components.Behavior{}

	e := w.agentMapper.NewEntity(&ident, &pos, &motion, &vitals, &genome, &behavior)
	w.agents = append(w.agents, e)
	return e
}

// spawnRandomFood places one food item at a uniform random position.
func (w *World) spawnRandomFood() ecs.Entity {
	x := w.rng.Float32() * w.width
	y := w.rng.Float32() * w.height
	return w.spawnFood(x, y, float32(w.cfg.World.FoodEnergyValue))
}

func (w *World) spawnFood(x, y, energy float32) ecs.Entity {
	id := w.nextFoodID
	w.nextFoodID++

	pos := components.Position{X: systems.Wrap(x, w.width), Y: systems.Wrap(y, w.height)}
	food := components.Food{ID: id, Energy: energy}
	e := w.foodMapper.NewEntity(&pos, &food)
	w.food = append(w.food, e)
	return e
}

// cleanupDead removes dead agents and consumed food, keeping the survivors in
// their original order.
func (w *World) cleanupDead() {
	kept := w.agents[:0]
	for _, e := range w.agents {
		v := w.vitalsMap.Get(e)
		if v.Alive {
			kept = append(kept, e)
			continue
		}
		w.counters.recordDeath(v.Cause)
		w.world.RemoveEntity(e)
	}
	clear(w.agents[len(kept):])
	w.agents = kept

	keptFood := w.food[:0]
	for _, e := range w.food {
		if !w.foodMap.Get(e).Consumed {
			keptFood = append(keptFood, e)
			continue
		}
		w.world.RemoveEntity(e)
	}
	clear(w.food[len(keptFood):])
	w.food = keptFood
}

// updateFoodSpawn adds floor(rate) items plus one more with probability
// frac(rate), never exceeding the food maximum.
func (w *World) updateFoodSpawn() {
	rate := w.cfg.World.FoodSpawnRate
	whole := math.Floor(rate)
	n := int(whole)
	if frac := rate - whole; frac > 0 && w.rng.Float64() < frac {
		n++
	}
	limit := w.cfg.World.MaxFoodCount
	for i := 0; i < n && len(w.food) < limit; i++ {
		w.spawnRandomFood()
	}
}

// admitOffspring spawns queued births in queue order until the population
// ceiling is reached. Births past the ceiling are dropped.
func (w *World) admitOffspring() {
	maxPop := w.cfg.Simulation.MaxPopulation
	for i, b := range w.births {
		if len(w.agents) >= maxPop {
			w.counters.BirthsBlocked += int64(len(w.births) - i)
			break
		}
		w.spawnAgent(b.populationID, b.traits, b.x, b.y, b.heading, w.rules.OffspringEnergy(b.traits))
		w.counters.Births++
	}
	clear(w.births)
	w.births = w.births[:0]
}
