package game

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/evosim/components"
	"github.com/pthm-cable/evosim/systems"
	"github.com/pthm-cable/evosim/traits"
)

// Update advances the world by one tick.
func (w *World) Update() {
	if w.perf != nil {
		w.perf.StartTick()
		defer w.perf.EndTick()
	}
	w.last = w.counters
	w.tick++

	w.phase(PhaseSpatialIndex)
	w.updateSpatialIndex()

	w.phase(PhaseAgents)
	// Births are queued, so the agent list does not grow during this pass.
	for _, e := range w.agents {
		w.updateAgent(e)
	}

	w.phase(PhaseCleanup)
	w.cleanupDead()

	w.phase(PhaseFood)
	w.updateFoodSpawn()

	w.phase(PhaseReproduction)
	w.admitOffspring()

	w.phase(PhaseCensus)
	w.recount()
}

func (w *World) phase(name string) {
	if w.perf != nil {
		w.perf.StartPhase(name)
	}
}

// updateSpatialIndex rebuilds both indices from live agents and available food.
func (w *World) updateSpatialIndex() {
	w.agentIndex.Clear()
	for _, e := range w.agents {
		if !w.vitalsMap.Get(e).Alive {
			continue
		}
		pos := w.posMap.Get(e)
		w.agentIndex.Insert(e, pos.X, pos.Y)
	}

	w.foodIndex.Clear()
	for _, e := range w.food {
		if w.foodMap.Get(e).Consumed {
			continue
		}
		pos := w.posMap.Get(e)
		w.foodIndex.Insert(e, pos.X, pos.Y)
	}
}

// agentState bundles the component pointers of the agent being updated.
type agentState struct {
	e   ecs.Entity
	id  *components.Identity
	pos *components.Position
	mo  *components.Motion
	v   *components.Vitals
	tr  *traits.Traits
	b   *components.Behavior

	// Neighbour set, queried on first use.
	radius    float32
	neighbors []ecs.Entity
	queried   bool
}

func (w *World) neighbors(a *agentState) []ecs.Entity {
	if !a.queried {
		w.nbuf = w.agentIndex.QueryRadiusInto(w.nbuf[:0], a.pos.X, a.pos.Y, a.radius)
		a.neighbors = w.nbuf
		a.queried = true
	}
	return a.neighbors
}

// updateAgent runs one agent through age, metabolism, steering, movement,
// feeding and reproduction.
func (w *World) updateAgent(e ecs.Entity) {
	v := w.vitalsMap.Get(e)
	if !v.Alive {
		return
	}
	a := agentState{
		e:   e,
		id:  w.idMap.Get(e),
		pos: w.posMap.Get(e),
		mo:  w.motionMap.Get(e),
		v:   v,
		tr:  &w.genomeMap.Get(e).Traits,
		b:   w.behaviorMap.Get(e),
	}
	a.radius = w.rules.PerceptionRadius(*a.tr)

	v.Age++
	if v.Age >= w.rules.MaxAgeTicks(*a.tr) {
		w.kill(v, components.CauseAge)
		return
	}

	v.Energy -= w.rules.EnergyDrain(*a.tr)
	if v.Energy <= 0 {
		w.kill(v, components.CauseStarvation)
		return
	}

	if w.rules.Social(*a.tr) && w.rules.SocialDue(v.Age, a.b.LastSocialUpdate) {
		w.updateSocial(&a)
		a.b.LastSocialUpdate = v.Age
	}

	if w.rules.Hungry(*a.tr, v.Energy) {
		// Between hunt updates the agent coasts on its current velocity.
		if w.rules.HuntDue(v.Age, a.b.LastHuntUpdate) {
			w.updateHunt(&a)
			a.b.LastHuntUpdate = v.Age
		}
	} else {
		a.b.Hunting = false
		a.b.HasTarget = false
		w.wander(&a)
	}

	a.pos.X = systems.Wrap(a.pos.X+a.mo.VelX, w.width)
	a.pos.Y = systems.Wrap(a.pos.Y+a.mo.VelY, w.height)

	w.updateFeeding(&a)
	w.updateReproduction(&a)
}

func (w *World) kill(v *components.Vitals, cause components.DeathCause) {
	v.Alive = false
	v.Cause = cause
	if v.Energy < 0 {
		v.Energy = 0
	}
}

func (w *World) wander(a *agentState) {
	a.mo.Heading, a.mo.VelX, a.mo.VelY = w.rules.Wander(*a.tr, a.mo.Heading, w.rng)
}

// updateSocial recounts same-population neighbours in the ally radius and
// turns toward their centroid.
func (w *World) updateSocial(a *agentState) {
	r := w.rules.AllyRadius(*a.tr)
	r2 := r * r
	var sumX, sumY float32
	var n int32
	for _, o := range w.neighbors(a) {
		if o == a.e || !w.vitalsMap.Get(o).Alive {
			continue
		}
		if w.idMap.Get(o).PopulationID != a.id.PopulationID {
			continue
		}
		op := w.posMap.Get(o)
		if systems.DistSq(a.pos.X, a.pos.Y, op.X, op.Y) >= r2 {
			continue
		}
		sumX += op.X
		sumY += op.Y
		n++
	}
	a.b.Allies = n
	if n == 0 {
		return
	}
	cx, cy := sumX/float32(n), sumY/float32(n)
	a.mo.Heading = w.rules.SocialTurn(*a.tr, a.mo.Heading, a.pos.X, a.pos.Y, cx, cy)
}

// updateHunt pursues the current target if it is still valid, otherwise
// scans for the nearest eligible prey.
func (w *World) updateHunt(a *agentState) {
	if a.b.HasTarget && w.Alive(a.b.Target) {
		tp := w.posMap.Get(a.b.Target)
		d2 := systems.DistSq(a.pos.X, a.pos.Y, tp.X, tp.Y)
		if w.rules.InPursuitRange(*a.tr, d2) {
			a.mo.Heading = systems.Heading(a.pos.X, a.pos.Y, tp.X, tp.Y)
			a.mo.VelX, a.mo.VelY = systems.Velocity(a.mo.Heading, w.rules.PursuitSpeed(*a.tr))
			a.b.Hunting = true
			if w.rules.InAttackRange(d2) {
				w.attack(a, a.b.Target)
			}
			return
		}
	}

	hr := w.rules.HuntRadius(*a.tr)
	best := hr * hr
	var prey ecs.Entity
	found := false
	for _, o := range w.neighbors(a) {
		if o == a.e {
			continue
		}
		ov := w.vitalsMap.Get(o)
		if !ov.Alive || w.idMap.Get(o).PopulationID == a.id.PopulationID {
			continue
		}
		if !w.rules.IsPrey(*a.tr, w.genomeMap.Get(o).Traits, ov.Energy) {
			continue
		}
		op := w.posMap.Get(o)
		if d2 := systems.DistSq(a.pos.X, a.pos.Y, op.X, op.Y); d2 < best {
			best = d2
			prey = o
			found = true
		}
	}

	if found {
		a.b.Target = prey
		a.b.HasTarget = true
		a.b.Hunting = true
		return
	}
	a.b.HasTarget = false
	a.b.Hunting = false
	w.wander(a)
}

// attack applies one hit to target. A kill transfers a share of the
// defender's max energy to the attacker.
func (w *World) attack(a *agentState, target ecs.Entity) {
	tv := w.vitalsMap.Get(target)
	if !tv.Alive {
		return
	}
	def := w.genomeMap.Get(target).Traits
	tv.Energy -= w.rules.AttackDamage(*a.tr, def)
	if tv.Energy > 0 {
		return
	}
	w.kill(tv, components.CausePredation)
	a.v.Energy = min(a.v.Energy+w.rules.KillReward(def), a.tr.MaxEnergy)
	a.b.HasTarget = false
	a.b.Hunting = false
}

// updateFeeding eats the nearest available food strictly inside the food range.
func (w *World) updateFeeding(a *agentState) {
	r := w.rules.FoodRange(*a.tr)
	if r <= 0 {
		return
	}
	best := r * r
	var pick *components.Food
	w.fbuf = w.foodIndex.QueryRadiusInto(w.fbuf[:0], a.pos.X, a.pos.Y, r)
	for _, f := range w.fbuf {
		fd := w.foodMap.Get(f)
		if fd.Consumed {
			continue
		}
		fp := w.posMap.Get(f)
		if d2 := systems.DistSq(a.pos.X, a.pos.Y, fp.X, fp.Y); d2 < best {
			best = d2
			pick = fd
		}
	}
	if pick == nil {
		return
	}
	pick.Consumed = true
	a.v.Energy = min(a.v.Energy+pick.Energy, a.tr.MaxEnergy)
	w.counters.FoodEaten++
}

// updateReproduction runs the per-tick reproduction trial and queues children.
func (w *World) updateReproduction(a *agentState) {
	if !w.rules.CanReproduce(*a.tr, a.v.Energy, a.v.Age) {
		return
	}
	p := float64(a.tr.ReproductionRate) / w.cfg.Simulation.ReproductionDivisor
	if w.rng.Float64() >= p {
		return
	}
	a.v.Energy -= w.rules.ReproductionCost(a.v.Energy)

	rate, strength, mutate := w.mutationParams(a.id.PopulationID)
	for i := 0; i < a.tr.Offspring(); i++ {
		child := *a.tr
		if mutate {
			child = traits.Mutate(child, w.bounds, w.rng, rate, strength)
		}
		dx, dy := w.rules.OffspringOffset(w.rng)
		w.births = append(w.births, birth{
			populationID: a.id.PopulationID,
			traits:       child,
			x:            systems.Wrap(a.pos.X+dx, w.width),
			y:            systems.Wrap(a.pos.Y+dy, w.height),
			heading:      systems.RandomHeading(w.rng),
		})
	}
}

// mutationParams resolves the mutation rate for a population. A population
// rate of zero falls back to the global rate.
func (w *World) mutationParams(popID string) (rate, strength float32, enabled bool) {
	m := w.cfg.Mutation
	if !m.Enabled {
		return 0, 0, false
	}
	rate = float32(m.Rate)
	if p, ok := w.pops.Get(popID); ok && p.MutationRate > 0 {
		rate = p.MutationRate
	}
	return rate, float32(m.Strength), rate > 0
}
