// Package components defines ECS components for the simulation.
package components

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/evosim/traits"
)

// DeathCause records why an agent died.
type DeathCause uint8

const (
	CauseNone DeathCause = iota
	CauseAge
	CauseStarvation
	CausePredation
)

// String returns the cause name used in logs and stats.
func (c DeathCause) String() string {
	switch c {
	case CauseAge:
		return "age"
	case CauseStarvation:
		return "starvation"
	case CausePredation:
		return "predation"
	}
	return "none"
}

// Identity ties an entity to its stable id and population.
type Identity struct {
	ID           uint32
	PopulationID string
}

// Position represents an entity's world position.
type Position struct {
	X, Y float32
}

// Motion holds heading (radians) and the velocity applied this tick.
type Motion struct {
	Heading    float32
	VelX, VelY float32
}

// Vitals holds the agent's energy budget and lifecycle state.
type Vitals struct {
	Energy float32
	Age    int32
	Alive  bool
	Cause  DeathCause
}

// Genome holds the agent's heritable traits.
type Genome struct {
	Traits traits.Traits
}

// Behavior holds hunt and social state.
// Target is a non-owning handle and must be checked with World.Alive before use.
type Behavior struct {
	Target           ecs.Entity
	HasTarget        bool
	Hunting          bool
	Allies           int32 // allies found at the last social update
	LastSocialUpdate int32 // age at last social update
	LastHuntUpdate   int32 // age at last hunt update
}

// Food marks a food item entity.
type Food struct {
	ID       uint32
	Energy   float32
	Consumed bool
}
