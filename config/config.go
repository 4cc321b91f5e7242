// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/evosim/population"
	"github.com/pthm-cable/evosim/traits"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid config")

// Config holds all simulation configuration parameters.
type Config struct {
	World       WorldConfig              `yaml:"world"`
	Simulation  SimulationConfig         `yaml:"simulation"`
	Behavior    BehaviorConfig           `yaml:"behavior"`
	Traits      map[string]traits.Domain `yaml:"traits"`
	Populations []population.Population  `yaml:"populations"`
	Mutation    MutationConfig           `yaml:"mutation"`
	Scheduler   SchedulerConfig          `yaml:"scheduler"`
	Telemetry   TelemetryConfig          `yaml:"telemetry"`
	Storage     StorageConfig            `yaml:"storage"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig holds world dimensions and food tunables. It is the payload of
// the world-config commands, so it may change at runtime.
type WorldConfig struct {
	Width           float64 `yaml:"width" json:"width"`
	Height          float64 `yaml:"height" json:"height"`
	FoodSpawnRate   float64 `yaml:"food_spawn_rate" json:"foodSpawnRate"`     // expected items per tick
	MaxFoodCount    int     `yaml:"max_food_count" json:"maxFoodCount"`       // spawn never exceeds this
	FoodEnergyValue float64 `yaml:"food_energy_value" json:"foodEnergyValue"` // energy per item
	InitialFood     int     `yaml:"initial_food" json:"initialFood"`
}

// SimulationConfig holds engine parameters that are fixed for a run.
type SimulationConfig struct {
	Seed                int64   `yaml:"seed"`
	AgentCellSize       float64 `yaml:"agent_cell_size"`
	FoodCellSize        float64 `yaml:"food_cell_size"`
	MaxPopulation       int     `yaml:"max_population"`
	ReproductionDivisor float64 `yaml:"reproduction_divisor"` // p = reproductionRate / divisor
	PerfLogInterval     int     `yaml:"perf_log_interval"`    // ticks between perf log lines (0 = off)
}

// BehaviorConfig holds the constants of the per-agent update.
type BehaviorConfig struct {
	AgeScale        float64 `yaml:"age_scale"` // lifespan = maxAge * AgeScale ticks
	BaseDrain       float64 `yaml:"base_drain"`
	DrainSizeFactor float64 `yaml:"drain_size_factor"`
	InitialEnergy   float64 `yaml:"initial_energy"` // fraction of max at creation

	SocialThreshold   float64 `yaml:"social_threshold"`
	SocialInterval    int32   `yaml:"social_interval"`
	AllyRadiusScale   float64 `yaml:"ally_radius_scale"`
	SocialStrengthMin float64 `yaml:"social_strength_min"`
	SocialBlend       float64 `yaml:"social_blend"`

	HuntAggression     float64 `yaml:"hunt_aggression"`      // aggression must exceed this
	HuntEnergyFraction float64 `yaml:"hunt_energy_fraction"` // hunt only below this fraction of max
	HuntInterval       int32   `yaml:"hunt_interval"`
	HuntRadiusScale    float64 `yaml:"hunt_radius_scale"`
	PursuitRange       float64 `yaml:"pursuit_range"` // multiple of hunt radius
	PursuitSpeedScale  float64 `yaml:"pursuit_speed_scale"`
	AttackDistance     float64 `yaml:"attack_distance"`
	PreySizeRatio      float64 `yaml:"prey_size_ratio"`
	PreyEnergyFraction float64 `yaml:"prey_energy_fraction"`

	AttackScale        float64 `yaml:"attack_scale"`
	DefenseScale       float64 `yaml:"defense_scale"`
	KillEnergyFraction float64 `yaml:"kill_energy_fraction"`

	WanderTurnChance float64 `yaml:"wander_turn_chance"`
	WanderTurnRange  float64 `yaml:"wander_turn_range"` // radians, centered on zero
	WanderJitter     float64 `yaml:"wander_jitter"`
	WanderSpeedScale float64 `yaml:"wander_speed_scale"`

	FoodRangeScale float64 `yaml:"food_range_scale"`

	ReproduceEnergy         float64 `yaml:"reproduce_energy"` // fraction of max
	ReproduceMinAge         int32   `yaml:"reproduce_min_age"`
	ReproduceCost           float64 `yaml:"reproduce_cost"` // fraction of current energy
	OffspringJitter         float64 `yaml:"offspring_jitter"`
	OffspringEnergyFraction float64 `yaml:"offspring_energy_fraction"`
}

// MutationConfig holds trait mutation parameters for offspring.
type MutationConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"`     // per-trait probability, used when a population sets none
	Strength float64 `yaml:"strength"` // fraction of domain width
}

// SchedulerConfig holds background runner parameters.
type SchedulerConfig struct {
	Speed       float64 `yaml:"speed"`
	Background  bool    `yaml:"background"`
	RenderEvery int     `yaml:"render_every"` // scheduler ticks per render event
	StatsEvery  int     `yaml:"stats_every"`  // world ticks per stats event
	MaxCatchUp  int     `yaml:"max_catch_up"` // inline ticks per pump
	EventBuffer int     `yaml:"event_buffer"`
	Rollback    bool    `yaml:"rollback"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"` // ticks per window
	PerfCollectorWindow int `yaml:"perf_collector_window"`
}

// StorageConfig selects the snapshot store backend.
type StorageConfig struct {
	Kind string `yaml:"kind"` // memory, file or sqlite
	Path string `yaml:"path"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Bounds traits.Bounds // trait domains with overrides applied
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	cfg.computeDerived()
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Bounds = traits.DefaultBounds()
	for name, d := range c.Traits {
		if id, ok := traits.Parse(name); ok {
			c.Derived.Bounds[id] = d
		}
	}

	if len(c.Populations) == 0 {
		c.Populations = population.Defaults()
	}
}

// Validate reports settings the simulation cannot run with.
func (c *Config) Validate() error {
	for name := range c.Traits {
		if _, ok := traits.Parse(name); !ok {
			return fmt.Errorf("%w: unknown trait %q", ErrInvalid, name)
		}
	}
	if err := c.Derived.Bounds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.World.Validate(); err != nil {
		return err
	}
	if _, err := population.NewRegistry(c.Populations, c.Derived.Bounds); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	s := c.Simulation
	if s.AgentCellSize <= 0 || s.FoodCellSize <= 0 {
		return fmt.Errorf("%w: cell sizes must be positive", ErrInvalid)
	}
	if s.MaxPopulation <= 0 {
		return fmt.Errorf("%w: max_population must be positive", ErrInvalid)
	}
	if s.ReproductionDivisor <= 0 {
		return fmt.Errorf("%w: reproduction_divisor must be positive", ErrInvalid)
	}
	if c.Scheduler.Speed <= 0 || math.IsInf(c.Scheduler.Speed, 0) {
		return fmt.Errorf("%w: scheduler speed %v", ErrInvalid, c.Scheduler.Speed)
	}
	if c.Mutation.Rate < 0 || c.Mutation.Rate > 1 {
		return fmt.Errorf("%w: mutation rate %v outside [0, 1]", ErrInvalid, c.Mutation.Rate)
	}
	switch c.Storage.Kind {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("%w: unknown storage kind %q", ErrInvalid, c.Storage.Kind)
	}
	return nil
}

// Validate checks world dimensions and food tunables.
func (w WorldConfig) Validate() error {
	if !(w.Width > 0) || !(w.Height > 0) || math.IsInf(w.Width, 0) || math.IsInf(w.Height, 0) {
		return fmt.Errorf("%w: world size %vx%v", ErrInvalid, w.Width, w.Height)
	}
	if w.FoodSpawnRate < 0 || math.IsNaN(w.FoodSpawnRate) || math.IsInf(w.FoodSpawnRate, 0) {
		return fmt.Errorf("%w: food_spawn_rate %v", ErrInvalid, w.FoodSpawnRate)
	}
	if w.FoodEnergyValue < 0 || math.IsNaN(w.FoodEnergyValue) || math.IsInf(w.FoodEnergyValue, 0) {
		return fmt.Errorf("%w: food_energy_value %v", ErrInvalid, w.FoodEnergyValue)
	}
	if w.MaxFoodCount < 0 || w.InitialFood < 0 {
		return fmt.Errorf("%w: negative food count", ErrInvalid)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Populations = population.Clone(c.Populations)
	if c.Traits != nil {
		out.Traits = make(map[string]traits.Domain, len(c.Traits))
		for k, v := range c.Traits {
			out.Traits[k] = v
		}
	}
	return &out
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
