package game

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/pthm-cable/evosim/components"
	"github.com/pthm-cable/evosim/traits"
)

// Counters are cumulative event counts since the world was created.
type Counters struct {
	Births           int64 `json:"births"`
	BirthsBlocked    int64 `json:"births_blocked"`
	DeathsAge        int64 `json:"deaths_age"`
	DeathsStarvation int64 `json:"deaths_starvation"`
	DeathsPredation  int64 `json:"deaths_predation"`
	FoodEaten        int64 `json:"food_eaten"`
}

func (c *Counters) recordDeath(cause components.DeathCause) {
	switch cause {
	case components.CauseAge:
		c.DeathsAge++
	case components.CauseStarvation:
		c.DeathsStarvation++
	case components.CausePredation:
		c.DeathsPredation++
	}
}

// Deaths returns the total number of deaths.
func (c Counters) Deaths() int64 {
	return c.DeathsAge + c.DeathsStarvation + c.DeathsPredation
}

// Sub returns c minus o, field by field.
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		Births:           c.Births - o.Births,
		BirthsBlocked:    c.BirthsBlocked - o.BirthsBlocked,
		DeathsAge:        c.DeathsAge - o.DeathsAge,
		DeathsStarvation: c.DeathsStarvation - o.DeathsStarvation,
		DeathsPredation:  c.DeathsPredation - o.DeathsPredation,
		FoodEaten:        c.FoodEaten - o.FoodEaten,
	}
}

// PopulationStats summarizes the live agents of one population.
type PopulationStats struct {
	ID         string        `json:"id"`
	Count      int           `json:"count"`
	Hunting    int           `json:"hunting"`
	MeanEnergy float32       `json:"mean_energy"`
	MeanAge    float32       `json:"mean_age"`
	MeanTraits traits.Traits `json:"mean_traits"`
}

// Stats is an aggregate view of the world after a tick.
type Stats struct {
	Tick             int64             `json:"tick"`
	PopulationCounts map[string]int    `json:"population_counts"`
	TotalOrganisms   int               `json:"total_organisms"`
	FoodCount        int               `json:"food_count"`
	Populations      []PopulationStats `json:"populations"`
	Totals           Counters          `json:"totals"`
	LastTick         Counters          `json:"last_tick"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("tick", s.Tick),
		slog.Int("organisms", s.TotalOrganisms),
		slog.Int("food", s.FoodCount),
		slog.Int64("births", s.Totals.Births),
		slog.Int64("deaths", s.Totals.Deaths()),
		slog.Any("populations", s.PopulationCounts),
	)
}

// recount rebuilds the per-population counts after a tick.
func (w *World) recount() {
	clear(w.counts)
	for _, id := range w.pops.IDs() {
		w.counts[id] = 0
	}
	for _, e := range w.agents {
		w.counts[w.idMap.Get(e).PopulationID]++
	}
}

// Counts returns a copy of the per-population live counts.
func (w *World) Counts() map[string]int {
	return maps.Clone(w.counts)
}

// Stats computes aggregate statistics. Population summaries are listed in
// registry order, followed by any orphaned populations sorted by id.
func (w *World) Stats() Stats {
	type acc struct {
		count, hunting int
		energy, age    float64
		traits         [traits.Count]float64
	}
	accs := make(map[string]*acc, len(w.counts))

	query := w.censusFilter.Query()
	for query.Next() {
		id, vitals, genome, behavior := query.Get()
		if !vitals.Alive {
			continue
		}
		a := accs[id.PopulationID]
		if a == nil {
			a = &acc{}
			accs[id.PopulationID] = a
		}
		a.count++
		if behavior.Hunting {
			a.hunting++
		}
		a.energy += float64(vitals.Energy)
		a.age += float64(vitals.Age)
		for i, v := range genome.Traits.Values() {
			a.traits[i] += float64(v)
		}
	}

	ids := w.pops.IDs()
	var extra []string
	for id := range w.counts {
		if _, ok := w.pops.Get(id); !ok {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	ids = append(ids, extra...)

	pops := make([]PopulationStats, 0, len(ids))
	total := 0
	for _, id := range ids {
		ps := PopulationStats{ID: id}
		if a := accs[id]; a != nil && a.count > 0 {
			n := float64(a.count)
			ps.Count = a.count
			ps.Hunting = a.hunting
			ps.MeanEnergy = float32(a.energy / n)
			ps.MeanAge = float32(a.age / n)
			for i := range a.traits {
				ps.MeanTraits.Set(traits.ID(i), float32(a.traits[i]/n))
			}
		}
		total += ps.Count
		pops = append(pops, ps)
	}

	return Stats{
		Tick:             w.tick,
		PopulationCounts: maps.Clone(w.counts),
		TotalOrganisms:   total,
		FoodCount:        len(w.food),
		Populations:      pops,
		Totals:           w.counters,
		LastTick:         w.counters.Sub(w.last),
	}
}

// AgentView is the render-facing projection of one agent.
type AgentView struct {
	ID           uint32  `json:"id"`
	PopulationID string  `json:"population_id"`
	X            float32 `json:"x"`
	Y            float32 `json:"y"`
	Size         float32 `json:"size"`
	Energy       float32 `json:"energy"`
	MaxEnergy    float32 `json:"max_energy"`
	Hunting      bool    `json:"hunting"`
	Allies       int32   `json:"allies"`
}

// FoodView is the render-facing projection of one food item.
type FoodView struct {
	ID     uint32  `json:"id"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Energy float32 `json:"energy"`
}

// RenderData is a lightweight copy of what a renderer needs.
type RenderData struct {
	Tick      int64       `json:"tick"`
	Organisms []AgentView `json:"organisms"`
	Food      []FoodView  `json:"food"`
}

// RenderData copies agent and food state in container order.
func (w *World) RenderData() RenderData {
	rd := RenderData{
		Tick:      w.tick,
		Organisms: make([]AgentView, 0, len(w.agents)),
		Food:      make([]FoodView, 0, len(w.food)),
	}
	for _, e := range w.agents {
		id := w.idMap.Get(e)
		pos := w.posMap.Get(e)
		v := w.vitalsMap.Get(e)
		tr := &w.genomeMap.Get(e).Traits
		b := w.behaviorMap.Get(e)
		rd.Organisms = append(rd.Organisms, AgentView{
			ID:           id.ID,
			PopulationID: id.PopulationID,
			X:            pos.X,
			Y:            pos.Y,
			Size:         tr.Size,
			Energy:       v.Energy,
			MaxEnergy:    tr.MaxEnergy,
			Hunting:      b.Hunting,
			Allies:       b.Allies,
		})
	}
	for _, e := range w.food {
		pos := w.posMap.Get(e)
		f := w.foodMap.Get(e)
		rd.Food = append(rd.Food, FoodView{ID: f.ID, X: pos.X, Y: pos.Y, Energy: f.Energy})
	}
	return rd
}
