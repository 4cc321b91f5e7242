package systems

import (
	"math"
	"math/rand/v2"

	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/traits"
)

// Rules evaluates the per-agent formulas with float32 copies of the behavior config.
type Rules struct {
	ageScale        float32
	baseDrain       float32
	drainSizeFactor float32
	initialEnergy   float32

	socialThreshold   float32
	socialInterval    int32
	allyRadiusScale   float32
	socialStrengthMin float32
	socialBlend       float32

	huntAggression     float32
	huntEnergyFraction float32
	huntInterval       int32
	huntRadiusScale    float32
	pursuitRangeSq     float32 // multiple of hunt radius squared
	pursuitSpeedScale  float32
	attackDistSq       float32
	preySizeRatio      float32
	preyEnergyFraction float32

	attackScale        float32
	defenseScale       float32
	killEnergyFraction float32

	wanderTurnChance float32
	wanderTurnRange  float32
	wanderJitter     float32
	wanderSpeedScale float32

	foodRangeScale float32

	reproduceEnergy         float32
	reproduceMinAge         int32
	reproduceCost           float32
	offspringJitter         float32
	offspringEnergyFraction float32
}

// NewRules converts a behavior config into Rules.
func NewRules(b config.BehaviorConfig) Rules {
	pursuit := float32(b.PursuitRange)
	attack := float32(b.AttackDistance)
	return Rules{
		ageScale:        float32(b.AgeScale),
		baseDrain:       float32(b.BaseDrain),
		drainSizeFactor: float32(b.DrainSizeFactor),
		initialEnergy:   float32(b.InitialEnergy),

		socialThreshold:   float32(b.SocialThreshold),
		socialInterval:    b.SocialInterval,
		allyRadiusScale:   float32(b.AllyRadiusScale),
		socialStrengthMin: float32(b.SocialStrengthMin),
		socialBlend:       float32(b.SocialBlend),

		huntAggression:     float32(b.HuntAggression),
		huntEnergyFraction: float32(b.HuntEnergyFraction),
		huntInterval:       b.HuntInterval,
		huntRadiusScale:    float32(b.HuntRadiusScale),
		pursuitRangeSq:     pursuit * pursuit,
		pursuitSpeedScale:  float32(b.PursuitSpeedScale),
		attackDistSq:       attack * attack,
		preySizeRatio:      float32(b.PreySizeRatio),
		preyEnergyFraction: float32(b.PreyEnergyFraction),

		attackScale:        float32(b.AttackScale),
		defenseScale:       float32(b.DefenseScale),
		killEnergyFraction: float32(b.KillEnergyFraction),

		wanderTurnChance: float32(b.WanderTurnChance),
		wanderTurnRange:  float32(b.WanderTurnRange),
		wanderJitter:     float32(b.WanderJitter),
		wanderSpeedScale: float32(b.WanderSpeedScale),

		foodRangeScale: float32(b.FoodRangeScale),

		reproduceEnergy:         float32(b.ReproduceEnergy),
		reproduceMinAge:         b.ReproduceMinAge,
		reproduceCost:           float32(b.ReproduceCost),
		offspringJitter:         float32(b.OffspringJitter),
		offspringEnergyFraction: float32(b.OffspringEnergyFraction),
	}
}

// MaxAgeTicks is the age at which an agent dies of old age.
func (r Rules) MaxAgeTicks(t traits.Traits) int32 {
	return int32(t.MaxAge * r.ageScale)
}

// InitialEnergy is the energy of a freshly seeded agent.
func (r Rules) InitialEnergy(t traits.Traits) float32 {
	return t.MaxEnergy * r.initialEnergy
}

// EnergyDrain is the per-tick metabolic cost.
func (r Rules) EnergyDrain(t traits.Traits) float32 {
	speed := t.Speed / 100
	eff := t.EnergyEfficiency / 100
	size := t.Size / 100
	return r.baseDrain * (1 + speed) * (1 - eff) * (1 + size*r.drainSizeFactor)
}

// Social reports whether the agent flocks with its population.
func (r Rules) Social(t traits.Traits) bool {
	return t.SocialBehavior > r.socialThreshold
}

// SocialDue reports whether the social throttle window has elapsed.
func (r Rules) SocialDue(age, last int32) bool {
	return age-last >= r.socialInterval
}

// AllyRadius is the flocking radius.
func (r Rules) AllyRadius(t traits.Traits) float32 {
	return t.VisionRange / 100 * r.allyRadiusScale
}

// SocialTurn returns the new heading after steering toward the ally
// centroid (cx, cy). Weak social agents do not turn.
func (r Rules) SocialTurn(t traits.Traits, heading, x, y, cx, cy float32) float32 {
	strength := t.SocialBehavior / 100
	if strength <= r.socialStrengthMin {
		return heading
	}
	target := Heading(x, y, cx, cy)
	return NormalizeAngle(heading + AngleDiff(heading, target)*strength*r.socialBlend)
}

// Aggressive reports whether the agent is a hunter at all.
func (r Rules) Aggressive(t traits.Traits) bool {
	return t.Aggression > r.huntAggression
}

// Hungry reports whether an aggressive agent should hunt at this energy.
func (r Rules) Hungry(t traits.Traits, energy float32) bool {
	return r.Aggressive(t) && energy < t.MaxEnergy*r.huntEnergyFraction
}

// HuntDue reports whether the hunt throttle window has elapsed.
func (r Rules) HuntDue(age, last int32) bool {
	return age-last >= r.huntInterval
}

// HuntRadius is the prey scan radius.
func (r Rules) HuntRadius(t traits.Traits) float32 {
	return t.VisionRange / 100 * r.huntRadiusScale
}

// PerceptionRadius is the neighbour query radius, covering both the hunt and
// ally radii. Zero means the agent never needs neighbours.
func (r Rules) PerceptionRadius(t traits.Traits) float32 {
	var radius float32
	if r.Aggressive(t) {
		radius = r.HuntRadius(t)
	}
	if r.Social(t) {
		radius = max(radius, r.AllyRadius(t))
	}
	return radius
}

// InPursuitRange reports whether a target at squared distance d2 is still chased.
func (r Rules) InPursuitRange(t traits.Traits, d2 float32) bool {
	hr := r.HuntRadius(t)
	return d2 < hr*hr*r.pursuitRangeSq
}

// PursuitSpeed is the boosted hunting speed.
func (r Rules) PursuitSpeed(t traits.Traits) float32 {
	return t.Speed / 100 * r.pursuitSpeedScale * t.Aggression / 100
}

// InAttackRange reports whether a target at squared distance d2 can be hit.
func (r Rules) InAttackRange(d2 float32) bool {
	return d2 < r.attackDistSq
}

// IsPrey reports whether a hunter may target a candidate. Same-population
// filtering is left to the caller.
func (r Rules) IsPrey(hunter, prey traits.Traits, preyEnergy float32) bool {
	return prey.Size <= hunter.Size*r.preySizeRatio &&
		preyEnergy <= prey.MaxEnergy*r.preyEnergyFraction
}

// AttackDamage is the energy removed from the defender per hit, floored at zero.
func (r Rules) AttackDamage(attacker, defender traits.Traits) float32 {
	atk := attacker.Aggression / 100 * attacker.Size / 100 * r.attackScale
	def := defender.Size / 100 * r.defenseScale
	return max(0, atk-def)
}

// KillReward is the energy an attacker gains from a kill.
func (r Rules) KillReward(defender traits.Traits) float32 {
	return defender.MaxEnergy * r.killEnergyFraction
}

// Wander applies the bounded random walk and returns the new heading and velocity.
func (r Rules) Wander(t traits.Traits, heading float32, rng *rand.Rand) (h, vx, vy float32) {
	if rng.Float32() < r.wanderTurnChance {
		heading += (rng.Float32() - 0.5) * r.wanderTurnRange
	}
	heading += (rng.Float32() - 0.5) * r.wanderJitter * t.Agility / 100
	heading = NormalizeAngle(heading)
	vx, vy = Velocity(heading, t.Speed/100*r.wanderSpeedScale)
	return heading, vx, vy
}

// FoodRange is the eating radius.
func (r Rules) FoodRange(t traits.Traits) float32 {
	return t.FoodDetection / 100 * r.foodRangeScale
}

// CanReproduce reports reproduction eligibility.
func (r Rules) CanReproduce(t traits.Traits, energy float32, age int32) bool {
	return energy >= t.MaxEnergy*r.reproduceEnergy && age >= r.reproduceMinAge
}

// ReproductionCost is the energy paid by a parent on a successful trial.
func (r Rules) ReproductionCost(energy float32) float32 {
	return energy * r.reproduceCost
}

// OffspringOffset returns a uniform positional jitter for a child.
func (r Rules) OffspringOffset(rng *rand.Rand) (dx, dy float32) {
	dx = (rng.Float32()*2 - 1) * r.offspringJitter
	dy = (rng.Float32()*2 - 1) * r.offspringJitter
	return dx, dy
}

// OffspringEnergy is the starting energy of a child.
func (r Rules) OffspringEnergy(t traits.Traits) float32 {
	return t.MaxEnergy * r.offspringEnergyFraction
}

// RandomHeading returns a uniform heading in [-Pi, Pi).
func RandomHeading(rng *rand.Rand) float32 {
	return float32(rng.Float64()*2*math.Pi - math.Pi)
}
