// Package population holds the named trait presets used to seed agent cohorts.
package population

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/evosim/traits"
)

// ErrInvalid is returned for malformed population definitions.
var ErrInvalid = errors.New("invalid population")

// Population is an immutable template for a cohort of agents.
type Population struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Color         string        `yaml:"color" json:"color"`
	InitialCount  int           `yaml:"initial_count" json:"initialCount"`
	DefaultTraits traits.Traits `yaml:"traits" json:"defaultTraits"`
	MutationRate  float32       `yaml:"mutation_rate" json:"mutationRate"`
}

// Validate checks a single population definition.
func (p Population) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if p.InitialCount < 0 {
		return fmt.Errorf("%w: %s: negative initial count %d", ErrInvalid, p.ID, p.InitialCount)
	}
	if !(p.MutationRate >= 0 && p.MutationRate <= 1) {
		return fmt.Errorf("%w: %s: mutation rate %.2f outside [0, 1]", ErrInvalid, p.ID, p.MutationRate)
	}
	if err := p.DefaultTraits.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, p.ID, err)
	}
	return nil
}

// Registry is an ordered, id-indexed set of populations.
type Registry struct {
	list  []Population
	index map[string]int
}

// NewRegistry validates pops and builds a registry that owns a copy of them.
// Trait vectors are clamped into bounds.
func NewRegistry(pops []Population, bounds traits.Bounds) (*Registry, error) {
	if len(pops) == 0 {
		return nil, fmt.Errorf("%w: no populations", ErrInvalid)
	}
	r := &Registry{
		list:  make([]Population, 0, len(pops)),
		index: make(map[string]int, len(pops)),
	}
	for _, p := range pops {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.index[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalid, p.ID)
		}
		p.DefaultTraits = p.DefaultTraits.Clamp(bounds)
		r.index[p.ID] = len(r.list)
		r.list = append(r.list, p)
	}
	return r, nil
}

// Get looks up a population by id.
func (r *Registry) Get(id string) (Population, bool) {
	i, ok := r.index[id]
	if !ok {
		return Population{}, false
	}
	return r.list[i], true
}

// All returns a copy of the populations in registration order.
func (r *Registry) All() []Population {
	out := make([]Population, len(r.list))
	copy(out, r.list)
	return out
}

// IDs returns population ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.list))
	for i, p := range r.list {
		ids[i] = p.ID
	}
	return ids
}

// Len returns the number of populations.
func (r *Registry) Len() int {
	return len(r.list)
}

// Clone returns a deep copy of pops. Populations hold only value fields,
// so a slice copy is sufficient.
func Clone(pops []Population) []Population {
	if pops == nil {
		return nil
	}
	out := make([]Population, len(pops))
	copy(out, pops)
	return out
}

// Defaults returns the five stock presets.
func Defaults() []Population {
	return []Population{
		{
			ID: "sprinter", Name: "Sprinter", Color: "#EF4444", InitialCount: 5, MutationRate: 0.1,
			DefaultTraits: traits.Traits{
				Speed: 90, Agility: 85, MaxEnergy: 40, EnergyEfficiency: 30, MaxAge: 50,
				VisionRange: 60, FoodDetection: 50, ReproductionRate: 70, OffspringCount: 2,
				Aggression: 60, Size: 40, SocialBehavior: 50,
			},
		},
		{
			ID: "tank", Name: "Tank", Color: "#3B82F6", InitialCount: 5, MutationRate: 0.1,
			DefaultTraits: traits.Traits{
				Speed: 20, Agility: 25, MaxEnergy: 95, EnergyEfficiency: 85, MaxAge: 90,
				VisionRange: 40, FoodDetection: 45, ReproductionRate: 30, OffspringCount: 1,
				Aggression: 30, Size: 85, SocialBehavior: 50,
			},
		},
		{
			ID: "hunter", Name: "Hunter", Color: "#F97316", InitialCount: 5, MutationRate: 0.1,
			DefaultTraits: traits.Traits{
				Speed: 70, Agility: 75, MaxEnergy: 60, EnergyEfficiency: 50, MaxAge: 65,
				VisionRange: 90, FoodDetection: 80, ReproductionRate: 50, OffspringCount: 2,
				Aggression: 85, Size: 55, SocialBehavior: 50,
			},
		},
		{
			ID: "gatherer", Name: "Gatherer", Color: "#10B981", InitialCount: 5, MutationRate: 0.1,
			DefaultTraits: traits.Traits{
				Speed: 50, Agility: 60, MaxEnergy: 70, EnergyEfficiency: 90, MaxAge: 70,
				VisionRange: 65, FoodDetection: 95, ReproductionRate: 60, OffspringCount: 3,
				Aggression: 20, Size: 45, SocialBehavior: 50,
			},
		},
		{
			ID: "allrounder", Name: "Allrounder", Color: "#A855F7", InitialCount: 5, MutationRate: 0.1,
			DefaultTraits: traits.Traits{
				Speed: 55, Agility: 55, MaxEnergy: 60, EnergyEfficiency: 60, MaxAge: 65,
				VisionRange: 60, FoodDetection: 60, ReproductionRate: 55, OffspringCount: 2,
				Aggression: 50, Size: 55, SocialBehavior: 50,
			},
		},
	}
}
