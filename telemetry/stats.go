// Package telemetry aggregates simulation statistics into windows, detects
// notable moments and writes CSV output.
package telemetry

import (
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds world-level statistics for one window.
type WindowStats struct {
	WindowStartTick int64 `csv:"-"`
	WindowEndTick   int64 `csv:"window_end"`

	// Counts at window end
	Organisms   int `csv:"organisms"`
	Food        int `csv:"food"`
	Populations int `csv:"populations_alive"`

	// Events during window
	Births           int64 `csv:"births"`
	BirthsBlocked    int64 `csv:"births_blocked"`
	DeathsAge        int64 `csv:"deaths_age"`
	DeathsStarvation int64 `csv:"deaths_starvation"`
	DeathsPredation  int64 `csv:"deaths_predation"`
	FoodEaten        int64 `csv:"food_eaten"`

	// Energy distribution over all organisms at window end
	EnergyMean float64 `csv:"energy_mean"`
	EnergyStd  float64 `csv:"energy_std"`
	EnergyP10  float64 `csv:"energy_p10"`
	EnergyP50  float64 `csv:"energy_p50"`
	EnergyP90  float64 `csv:"energy_p90"`

	Overruns int64 `csv:"overruns"`
}

// PopulationWindow holds one population's statistics for one window.
type PopulationWindow struct {
	WindowEndTick int64  `csv:"window_end"`
	Population    string `csv:"population"`
	Count         int    `csv:"count"`
	Hunting       int    `csv:"hunting"`

	EnergyMean float64 `csv:"energy_mean"`
	EnergyStd  float64 `csv:"energy_std"`
	EnergyP10  float64 `csv:"energy_p10"`
	EnergyP50  float64 `csv:"energy_p50"`
	EnergyP90  float64 `csv:"energy_p90"`
	MeanAge    float64 `csv:"mean_age"`

	// Mean traits
	Speed          float64 `csv:"speed"`
	Agility        float64 `csv:"agility"`
	MaxEnergy      float64 `csv:"max_energy"`
	Efficiency     float64 `csv:"energy_efficiency"`
	MaxAge         float64 `csv:"max_age"`
	Vision         float64 `csv:"vision_range"`
	FoodDetection  float64 `csv:"food_detection"`
	Reproduction   float64 `csv:"reproduction_rate"`
	OffspringCount float64 `csv:"offspring_count"`
	Aggression     float64 `csv:"aggression"`
	Size           float64 `csv:"size"`
	Social         float64 `csv:"social_behavior"`
}

// Distribution summarizes a sample.
type Distribution struct {
	Mean, Std     float64
	P10, P50, P90 float64
}

// Summarize computes mean, sample standard deviation and empirical
// quantiles. An empty sample summarizes to zeros.
func Summarize(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var d Distribution
	if len(sorted) > 1 {
		d.Mean, d.Std = stat.MeanStdDev(sorted, nil)
	} else {
		d.Mean = sorted[0]
	}
	d.P10 = stat.Quantile(0.10, stat.Empirical, sorted, nil)
	d.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	d.P90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	return d
}

// Deaths returns all deaths in the window.
func (s WindowStats) Deaths() int64 {
	return s.DeathsAge + s.DeathsStarvation + s.DeathsPredation
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("window_start", s.WindowStartTick),
		slog.Int64("window_end", s.WindowEndTick),
		slog.Int("organisms", s.Organisms),
		slog.Int("food", s.Food),
		slog.Int("populations_alive", s.Populations),
		slog.Int64("births", s.Births),
		slog.Int64("births_blocked", s.BirthsBlocked),
		slog.Int64("deaths_age", s.DeathsAge),
		slog.Int64("deaths_starvation", s.DeathsStarvation),
		slog.Int64("deaths_predation", s.DeathsPredation),
		slog.Int64("food_eaten", s.FoodEaten),
		slog.Float64("energy_mean", s.EnergyMean),
		slog.Float64("energy_p50", s.EnergyP50),
		slog.Int64("overruns", s.Overruns),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}

// LogValue implements slog.LogValuer for structured logging.
func (p PopulationWindow) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("population", p.Population),
		slog.Int("count", p.Count),
		slog.Int("hunting", p.Hunting),
		slog.Float64("energy_mean", p.EnergyMean),
		slog.Float64("mean_age", p.MeanAge),
		slog.Float64("speed", p.Speed),
		slog.Float64("size", p.Size),
		slog.Float64("aggression", p.Aggression),
	)
}
