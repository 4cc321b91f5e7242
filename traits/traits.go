// Package traits defines the heritable trait vector carried by every agent.
package traits

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// ID identifies a single trait in the vector.
type ID uint8

const (
	Speed ID = iota
	Agility
	MaxEnergy
	EnergyEfficiency
	MaxAge
	VisionRange
	FoodDetection
	ReproductionRate
	OffspringCount
	Aggression
	Size
	SocialBehavior

	// Count is the number of traits in a vector.
	Count
)

var names = [Count]string{
	"speed",
	"agility",
	"maxEnergy",
	"energyEfficiency",
	"maxAge",
	"visionRange",
	"foodDetection",
	"reproductionRate",
	"offspringCount",
	"aggression",
	"size",
	"socialBehavior",
}

// String returns the trait's wire name.
func (id ID) String() string {
	if id < Count {
		return names[id]
	}
	return fmt.Sprintf("trait(%d)", uint8(id))
}

// Parse maps a wire name back to its ID.
func Parse(name string) (ID, bool) {
	for i, n := range names {
		if n == name {
			return ID(i), true
		}
	}
	return 0, false
}

// All returns every trait ID in vector order.
func All() []ID {
	ids := make([]ID, Count)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Traits is the fixed vector of named behavioral scalars.
// Values are on the 0..100 scale except OffspringCount (1..5).
type Traits struct {
	Speed            float32 `yaml:"speed" json:"speed"`
	Agility          float32 `yaml:"agility" json:"agility"`
	MaxEnergy        float32 `yaml:"maxEnergy" json:"maxEnergy"`
	EnergyEfficiency float32 `yaml:"energyEfficiency" json:"energyEfficiency"`
	MaxAge           float32 `yaml:"maxAge" json:"maxAge"`
	VisionRange      float32 `yaml:"visionRange" json:"visionRange"`
	FoodDetection    float32 `yaml:"foodDetection" json:"foodDetection"`
	ReproductionRate float32 `yaml:"reproductionRate" json:"reproductionRate"`
	OffspringCount   float32 `yaml:"offspringCount" json:"offspringCount"`
	Aggression       float32 `yaml:"aggression" json:"aggression"`
	Size             float32 `yaml:"size" json:"size"`
	SocialBehavior   float32 `yaml:"socialBehavior" json:"socialBehavior"`
}

func (t *Traits) field(id ID) *float32 {
	switch id {
	case Speed:
		return &t.Speed
	case Agility:
		return &t.Agility
	case MaxEnergy:
		return &t.MaxEnergy
	case EnergyEfficiency:
		return &t.EnergyEfficiency
	case MaxAge:
		return &t.MaxAge
	case VisionRange:
		return &t.VisionRange
	case FoodDetection:
		return &t.FoodDetection
	case ReproductionRate:
		return &t.ReproductionRate
	case OffspringCount:
		return &t.OffspringCount
	case Aggression:
		return &t.Aggression
	case Size:
		return &t.Size
	case SocialBehavior:
		return &t.SocialBehavior
	}
	return nil
}

// Get returns the value of a trait. Unknown IDs read as zero.
func (t Traits) Get(id ID) float32 {
	if p := t.field(id); p != nil {
		return *p
	}
	return 0
}

// Set assigns a trait value. Unknown IDs are ignored.
func (t *Traits) Set(id ID, v float32) {
	if p := t.field(id); p != nil {
		*p = v
	}
}

// Values returns the traits as a plain array in vector order.
func (t Traits) Values() [Count]float32 {
	var out [Count]float32
	for i := ID(0); i < Count; i++ {
		out[i] = t.Get(i)
	}
	return out
}

// Offspring returns the number of children produced per reproduction event.
func (t Traits) Offspring() int {
	n := int(math.Round(float64(t.OffspringCount)))
	if n < 0 {
		return 0
	}
	return n
}

// Validate reports NaN or infinite trait values, which clamping cannot repair.
func (t Traits) Validate() error {
	for i, v := range t.Values() {
		if isNonFinite(v) {
			return fmt.Errorf("trait %s: value %v is not finite", ID(i), v)
		}
	}
	return nil
}

func isNonFinite(v float32) bool {
	f := float64(v)
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// Domain is the inclusive range a trait value is clamped to.
type Domain struct {
	Min float32 `yaml:"min" json:"min"`
	Max float32 `yaml:"max" json:"max"`
}

// Width returns Max-Min.
func (d Domain) Width() float32 {
	return d.Max - d.Min
}

// Clamp clamps v into the domain.
func (d Domain) Clamp(v float32) float32 {
	if v < d.Min {
		return d.Min
	}
	if v > d.Max {
		return d.Max
	}
	return v
}

// Bounds holds one domain per trait.
type Bounds [Count]Domain

// DefaultBounds returns the stock domains: 0..100 for most traits, 1..100 for
// maxEnergy and maxAge, 1..5 for offspringCount.
func DefaultBounds() Bounds {
	var b Bounds
	for i := range b {
		b[i] = Domain{Min: 0, Max: 100}
	}
	b[MaxEnergy] = Domain{Min: 1, Max: 100}
	b[MaxAge] = Domain{Min: 1, Max: 100}
	b[OffspringCount] = Domain{Min: 1, Max: 5}
	return b
}

// Validate reports inverted or non-finite domains.
func (b Bounds) Validate() error {
	for i, d := range b {
		if isNonFinite(d.Min) || isNonFinite(d.Max) {
			return fmt.Errorf("trait %s: domain is not finite", ID(i))
		}
		if d.Min > d.Max {
			return fmt.Errorf("trait %s: min %.2f greater than max %.2f", ID(i), d.Min, d.Max)
		}
	}
	return nil
}

// Clamp returns a copy of t with every trait clamped into its domain.
func (t Traits) Clamp(b Bounds) Traits {
	out := t
	for i := ID(0); i < Count; i++ {
		out.Set(i, b[i].Clamp(t.Get(i)))
	}
	return out
}

// Mutate returns a copy of t where each trait, with probability rate, is
// shifted by a uniform delta of ±strength/2 times its domain width.
// The result is clamped into b.
func Mutate(t Traits, b Bounds, rng *rand.Rand, rate, strength float32) Traits {
	out := t
	for i := ID(0); i < Count; i++ {
		if rng.Float32() >= rate {
			continue
		}
		delta := (rng.Float32() - 0.5) * strength * b[i].Width()
		out.Set(i, t.Get(i)+delta)
	}
	return out.Clamp(b)
}
