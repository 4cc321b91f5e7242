package telemetry

import (
	"github.com/pthm-cable/evosim/game"
	"github.com/pthm-cable/evosim/traits"
)

// Sample is what the collector needs from one stats event: the aggregate
// stats and the latest per-agent view.
type Sample struct {
	Stats    game.Stats
	Agents   []game.AgentView
	Overruns int64
}

// Collector turns cumulative counters into per-window statistics.
type Collector struct {
	windowTicks int64

	// Current window tracking
	windowStartTick int64
	startTotals     game.Counters
}

// NewCollector creates a collector flushing every windowTicks world ticks.
func NewCollector(windowTicks int) *Collector {
	return &Collector{windowTicks: int64(max(windowTicks, 1))}
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() int64 {
	return c.windowTicks
}

// Reset starts a new window at tick with the given cumulative counters, as
// after loading a snapshot.
func (c *Collector) Reset(tick int64, totals game.Counters) {
	c.windowStartTick = tick
	c.startTotals = totals
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowTicks
}

// Flush produces the window's statistics and starts the next window.
func (c *Collector) Flush(s Sample) (WindowStats, []PopulationWindow) {
	st := s.Stats
	delta := st.Totals.Sub(c.startTotals)

	all := make([]float64, 0, len(s.Agents))
	byPop := make(map[string][]float64)
	for _, a := range s.Agents {
		e := float64(a.Energy)
		all = append(all, e)
		byPop[a.PopulationID] = append(byPop[a.PopulationID], e)
	}
	energy := Summarize(all)

	alive := 0
	for _, n := range st.PopulationCounts {
		if n > 0 {
			alive++
		}
	}

	ws := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   st.Tick,
		Organisms:       st.TotalOrganisms,
		Food:            st.FoodCount,
		Populations:     alive,

		Births:           delta.Births,
		BirthsBlocked:    delta.BirthsBlocked,
		DeathsAge:        delta.DeathsAge,
		DeathsStarvation: delta.DeathsStarvation,
		DeathsPredation:  delta.DeathsPredation,
		FoodEaten:        delta.FoodEaten,

		EnergyMean: energy.Mean,
		EnergyStd:  energy.Std,
		EnergyP10:  energy.P10,
		EnergyP50:  energy.P50,
		EnergyP90:  energy.P90,

		Overruns: s.Overruns,
	}

	pops := make([]PopulationWindow, 0, len(st.Populations))
	for _, ps := range st.Populations {
		d := Summarize(byPop[ps.ID])
		t := ps.MeanTraits
		pops = append(pops, PopulationWindow{
			WindowEndTick: st.Tick,
			Population:    ps.ID,
			Count:         ps.Count,
			Hunting:       ps.Hunting,
			EnergyMean:    d.Mean,
			EnergyStd:     d.Std,
			EnergyP10:     d.P10,
			EnergyP50:     d.P50,
			EnergyP90:     d.P90,
			MeanAge:       float64(ps.MeanAge),

			Speed:          float64(t.Get(traits.Speed)),
			Agility:        float64(t.Get(traits.Agility)),
			MaxEnergy:      float64(t.Get(traits.MaxEnergy)),
			Efficiency:     float64(t.Get(traits.EnergyEfficiency)),
			MaxAge:         float64(t.Get(traits.MaxAge)),
			Vision:         float64(t.Get(traits.VisionRange)),
			FoodDetection:  float64(t.Get(traits.FoodDetection)),
			Reproduction:   float64(t.Get(traits.ReproductionRate)),
			OffspringCount: float64(t.Get(traits.OffspringCount)),
			Aggression:     float64(t.Get(traits.Aggression)),
			Size:           float64(t.Get(traits.Size)),
			Social:         float64(t.Get(traits.SocialBehavior)),
		})
	}

	// Reset for next window
	c.windowStartTick = st.Tick
	c.startTotals = st.Totals

	return ws, pops
}
