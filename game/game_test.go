package game

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/population"
	"github.com/pthm-cable/evosim/traits"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	if err != nil {
		t.Fatalf("config.Defaults: %v", err)
	}
	cfg.Simulation.Seed = 42
	return cfg
}

// quietTraits never drains, eats, hunts or flocks.
func quietTraits() traits.Traits {
	return traits.Traits{
		Speed: 50, Agility: 50, MaxEnergy: 100, EnergyEfficiency: 100, MaxAge: 100,
		VisionRange: 50, FoodDetection: 0, ReproductionRate: 0, OffspringCount: 1,
		Aggression: 0, Size: 50, SocialBehavior: 0,
	}
}

// scenarioWorld restores a hand-built snapshot with no food spawning.
func scenarioWorld(t *testing.T, cfg *config.Config, pops []population.Population, agents []AgentState) *World {
	t.Helper()
	cfg.World.FoodSpawnRate = 0
	cfg.World.InitialFood = 0
	s := &Snapshot{
		Version:     SnapshotVersion,
		Seed:        7,
		World:       cfg.World,
		Populations: pops,
		Agents:      agents,
		NextID:      100,
	}
	w, err := Restore(cfg, s)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	return w
}

func checkInvariants(t *testing.T, w *World) {
	t.Helper()
	for _, e := range w.agents {
		pos := w.posMap.Get(e)
		if pos.X < 0 || pos.X >= w.width || pos.Y < 0 || pos.Y >= w.height {
			t.Fatalf("tick %d: position (%v, %v) outside world", w.tick, pos.X, pos.Y)
		}
		v := w.vitalsMap.Get(e)
		if !v.Alive {
			t.Fatalf("tick %d: dead agent survived compaction", w.tick)
		}
		maxE := w.genomeMap.Get(e).Traits.MaxEnergy
		if v.Energy < 0 || v.Energy > maxE {
			t.Fatalf("tick %d: energy %v outside [0, %v]", w.tick, v.Energy, maxE)
		}
	}
	if len(w.food) > w.cfg.World.MaxFoodCount {
		t.Fatalf("tick %d: food %d above max %d", w.tick, len(w.food), w.cfg.World.MaxFoodCount)
	}
}

// ---------- Construction ----------

func TestNewWorld_SeedsPopulations(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	if w.AgentCount() != 25 {
		t.Errorf("AgentCount = %d, want 25", w.AgentCount())
	}
	if w.FoodCount() != 100 {
		t.Errorf("FoodCount = %d, want 100", w.FoodCount())
	}
	for id, n := range w.Counts() {
		if n != 5 {
			t.Errorf("population %s count = %d, want 5", id, n)
		}
	}
	for _, e := range w.agents {
		v := w.vitalsMap.Get(e)
		maxE := w.genomeMap.Get(e).Traits.MaxEnergy
		if v.Energy != maxE*0.8 {
			t.Errorf("initial energy %v, want %v", v.Energy, maxE*0.8)
		}
	}
}

func TestNewWorld_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		pops   []population.Population
	}{
		{"zero width", func(c *config.Config) { c.World.Width = 0 }, nil},
		{"negative food", func(c *config.Config) { c.World.MaxFoodCount = -3 }, nil},
		{"no populations", func(c *config.Config) {}, []population.Population{}},
		{"bad population", func(c *config.Config) {}, []population.Population{{ID: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			w, err := NewWorld(cfg, tt.pops)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
			if w != nil {
				t.Error("partial world returned on error")
			}
		})
	}
}

func TestNewWorld_DoesNotAliasConfig(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.World.Width = 1
	cfg.Populations[0].InitialCount = 99
	if w.Config().World.Width != 1400 {
		t.Error("world shares config with caller")
	}
}

// ---------- Invariants ----------

func TestUpdate_Invariants(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mutation.Enabled = true
	cfg.Simulation.ReproductionDivisor = 1000 // plenty of births
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 400; i++ {
		w.Update()
		checkInvariants(t, w)
	}
	if w.Tick() != 400 {
		t.Errorf("Tick = %d, want 400", w.Tick())
	}
	st := w.Stats()
	sum := 0
	for _, n := range st.PopulationCounts {
		sum += n
	}
	if sum != w.AgentCount() || st.TotalOrganisms != w.AgentCount() {
		t.Errorf("counts %d / total %d disagree with AgentCount %d", sum, st.TotalOrganisms, w.AgentCount())
	}
}

func TestUpdate_SeededDeterminism(t *testing.T) {
	run := func() RenderData {
		w, err := NewWorld(testConfig(t), nil)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 250; i++ {
			w.Update()
		}
		return w.RenderData()
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different worlds")
	}
}

// ---------- Food ----------

func TestFoodSpawn_FillsToMax(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.FoodSpawnRate = 1.0
	cfg.World.MaxFoodCount = 10
	cfg.World.InitialFood = 0
	pops := []population.Population{{ID: "none", InitialCount: 0, DefaultTraits: quietTraits()}}

	w, err := NewWorld(cfg, pops)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		w.Update()
	}
	if w.FoodCount() != 10 {
		t.Errorf("FoodCount = %d, want 10", w.FoodCount())
	}
}

func TestFoodSpawn_Fractional(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.FoodSpawnRate = 0.5
	cfg.World.MaxFoodCount = 10000
	cfg.World.InitialFood = 0
	pops := []population.Population{{ID: "none", DefaultTraits: quietTraits()}}

	w, err := NewWorld(cfg, pops)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2000; i++ {
		w.Update()
	}
	if n := w.FoodCount(); n < 900 || n > 1100 {
		t.Errorf("FoodCount = %d after 2000 ticks at rate 0.5, want about 1000", n)
	}
}

func TestFeeding_EatsNearest(t *testing.T) {
	cfg := testConfig(t)
	tr := quietTraits()
	tr.Speed = 0
	tr.FoodDetection = 100 // range 50
	pops := []population.Population{{ID: "a", DefaultTraits: tr}}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "a", X: 200, Y: 200, Energy: 10, Traits: tr},
	})
	far := w.spawnFood(230, 200, 5)
	near := w.spawnFood(190, 200, 7)
	w.spawnFood(260, 200, 9) // outside range

	w.Update()

	if !w.world.Alive(far) {
		t.Error("far food should remain")
	}
	if w.world.Alive(near) {
		t.Error("nearest food should be consumed")
	}
	s := w.Snapshot()
	if got := s.Agents[0].Energy; got != 17 {
		t.Errorf("energy = %v, want 17", got)
	}
	if w.FoodCount() != 2 {
		t.Errorf("FoodCount = %d, want 2", w.FoodCount())
	}
}

// ---------- Lifecycle ----------

func TestStarvation(t *testing.T) {
	cfg := testConfig(t)
	tr := quietTraits()
	tr.EnergyEfficiency = 0 // drain 0.1 * 1.5 * 1 * 1.25
	pops := []population.Population{{ID: "a", DefaultTraits: tr}}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "a", X: 10, Y: 10, Energy: 0.05, Traits: tr},
		{ID: 2, PopulationID: "a", X: 500, Y: 300, Energy: 50, Traits: tr},
	})

	w.Update()

	if w.AgentCount() != 1 {
		t.Fatalf("AgentCount = %d, want 1", w.AgentCount())
	}
	st := w.Stats()
	if st.Totals.DeathsStarvation != 1 {
		t.Errorf("starvation deaths = %d, want 1", st.Totals.DeathsStarvation)
	}
	if st.LastTick.DeathsStarvation != 1 {
		t.Errorf("last tick starvation deaths = %d, want 1", st.LastTick.DeathsStarvation)
	}
}

func TestStarvation_ZeroEnergyLeavesIndex(t *testing.T) {
	cfg := testConfig(t)
	tr := quietTraits()
	tr.EnergyEfficiency = 50
	pops := []population.Population{{ID: "a", DefaultTraits: tr}}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "a", X: 10, Y: 10, Energy: 0, Traits: tr},
		{ID: 2, PopulationID: "a", X: 700, Y: 350, Energy: 50, Traits: tr},
	})

	w.Update()
	if w.AgentCount() != 1 {
		t.Fatalf("AgentCount = %d after first tick, want 1", w.AgentCount())
	}
	if got := w.Stats().Totals.DeathsStarvation; got != 1 {
		t.Errorf("starvation deaths = %d, want 1", got)
	}

	w.Update()
	if got := w.agentIndex.Len(); got != 1 {
		t.Errorf("agent index holds %d entries, want 1", got)
	}
	if got := w.agentIndex.QueryRadius(10, 10, 20); len(got) != 0 {
		t.Errorf("query at the dead agent's position returned %d entries", len(got))
	}
}

func TestOldAge(t *testing.T) {
	cfg := testConfig(t)
	tr := quietTraits()
	tr.MaxAge = 1 // 100 ticks
	pops := []population.Population{{ID: "a", DefaultTraits: tr}}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "a", X: 10, Y: 10, Energy: 50, Age: 98, Traits: tr},
	})
	w.Update()
	if w.AgentCount() != 1 {
		t.Fatal("agent died before reaching max age")
	}
	w.Update()
	if w.AgentCount() != 0 {
		t.Fatal("agent outlived max age")
	}
	if got := w.Stats().Totals.DeathsAge; got != 1 {
		t.Errorf("age deaths = %d, want 1", got)
	}
}

func breederTraits() traits.Traits {
	tr := quietTraits()
	tr.ReproductionRate = 100
	tr.OffspringCount = 2
	return tr
}

func TestReproduction_Forced(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.ReproductionDivisor = 1 // p = 100, always succeeds
	tr := breederTraits()
	pops := []population.Population{{ID: "a", InitialCount: 1, DefaultTraits: tr}}
	cfg.World.InitialFood = 0
	cfg.World.FoodSpawnRate = 0

	w, err := NewWorld(cfg, pops)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 49; i++ {
		w.Update()
	}
	if w.AgentCount() != 1 {
		t.Fatalf("reproduced before minimum age: %d agents", w.AgentCount())
	}

	w.Update()
	if w.AgentCount() != 3 {
		t.Fatalf("AgentCount = %d, want 3", w.AgentCount())
	}

	s := w.Snapshot()
	parent := s.Agents[0]
	if parent.Energy != 40 {
		t.Errorf("parent energy = %v, want 40", parent.Energy)
	}
	for _, child := range s.Agents[1:] {
		if child.Traits != tr {
			t.Errorf("child traits %+v differ from parent", child.Traits)
		}
		if child.Energy != 50 {
			t.Errorf("child energy = %v, want 50", child.Energy)
		}
		if child.Age != 0 {
			t.Errorf("child age = %d, want 0", child.Age)
		}
		dx, dy := child.X-parent.X, child.Y-parent.Y
		if dx > 10 || dx < -10 || dy > 10 || dy < -10 {
			// Jitter may have wrapped across an edge.
			if dx < 1390 && dx > -1390 && dy < 690 && dy > -690 {
				t.Errorf("child offset (%v, %v) exceeds jitter", dx, dy)
			}
		}
	}
	if got := w.Stats().Totals.Births; got != 2 {
		t.Errorf("births = %d, want 2", got)
	}
}

func TestReproduction_Ceiling(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.ReproductionDivisor = 1
	cfg.Simulation.MaxPopulation = 2
	tr := breederTraits()
	pops := []population.Population{{ID: "a", DefaultTraits: tr}}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "a", X: 100, Y: 100, Energy: 90, Age: 60, Traits: tr},
	})

	w.Update()

	if w.AgentCount() != 2 {
		t.Fatalf("AgentCount = %d, want 2 (ceiling)", w.AgentCount())
	}
	st := w.Stats()
	if st.Totals.Births != 1 || st.Totals.BirthsBlocked != 1 {
		t.Errorf("births=%d blocked=%d, want 1/1", st.Totals.Births, st.Totals.BirthsBlocked)
	}
	if got := w.Snapshot().Agents[0].Energy; got != 45 {
		t.Errorf("parent energy = %v, want 45 (cost still paid)", got)
	}
}

// ---------- Hunting ----------

func hunterTraits() traits.Traits {
	tr := quietTraits()
	tr.Aggression = 100
	tr.Size = 100
	tr.VisionRange = 100
	tr.Speed = 0
	return tr
}

func preyTraits() traits.Traits {
	tr := quietTraits()
	tr.Speed = 0
	tr.Size = 0
	tr.MaxEnergy = 50
	return tr
}

func TestHunt_EquidistantTieBreak(t *testing.T) {
	cfg := testConfig(t)
	h, p := hunterTraits(), preyTraits()
	pops := []population.Population{
		{ID: "hunter", DefaultTraits: h},
		{ID: "prey", DefaultTraits: p},
	}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "hunter", X: 75, Y: 75, Energy: 10, Age: 10, Traits: h},
		{ID: 2, PopulationID: "prey", X: 105, Y: 75, Energy: 10, Traits: p},
		{ID: 3, PopulationID: "prey", X: 45, Y: 75, Energy: 10, Traits: p},
	})

	w.Update()

	s := w.Snapshot()
	if s.Agents[0].TargetID != 2 {
		t.Errorf("target = %d, want 2 (first encountered)", s.Agents[0].TargetID)
	}
	if !s.Agents[0].Hunting {
		t.Error("hunter should be hunting")
	}
}

func TestHunt_IgnoresOwnPopulationAndStrongPrey(t *testing.T) {
	cfg := testConfig(t)
	h, p := hunterTraits(), preyTraits()
	pops := []population.Population{
		{ID: "hunter", DefaultTraits: h},
		{ID: "prey", DefaultTraits: p},
	}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "hunter", X: 75, Y: 75, Energy: 10, Age: 10, Traits: h},
		{ID: 2, PopulationID: "hunter", X: 80, Y: 75, Energy: 10, Traits: h},
		{ID: 3, PopulationID: "prey", X: 70, Y: 75, Energy: 45, Traits: p}, // above 60% of max
	})

	w.Update()

	s := w.Snapshot()
	if s.Agents[0].TargetID != 0 || s.Agents[0].Hunting {
		t.Errorf("hunter locked onto ineligible agent %d", s.Agents[0].TargetID)
	}
}

func TestHunt_KillTransfersEnergy(t *testing.T) {
	cfg := testConfig(t)
	h, p := hunterTraits(), preyTraits()
	pops := []population.Population{
		{ID: "hunter", DefaultTraits: h},
		{ID: "prey", DefaultTraits: p},
	}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "hunter", X: 100, Y: 100, Energy: 10, Age: 10, Traits: h, TargetID: 2},
		{ID: 2, PopulationID: "prey", X: 110, Y: 100, Energy: 5, Traits: p},
	})

	w.Update()

	if w.AgentCount() != 1 {
		t.Fatalf("AgentCount = %d, want 1", w.AgentCount())
	}
	s := w.Snapshot()
	// 10 + 0.3 * 50
	if got := s.Agents[0].Energy; math.Abs(float64(got-25)) > 1e-4 {
		t.Errorf("hunter energy = %v, want 25", got)
	}
	if got := w.Stats().Totals.DeathsPredation; got != 1 {
		t.Errorf("predation deaths = %d, want 1", got)
	}
}

func TestHunt_ThrottledKeepsVelocity(t *testing.T) {
	cfg := testConfig(t)
	h := hunterTraits()
	pops := []population.Population{{ID: "hunter", DefaultTraits: h}}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "hunter", X: 100, Y: 100, VelX: 3, VelY: -1, Energy: 10, Age: 10, LastHuntUpdate: 10, Traits: h},
	})

	w.Update()

	s := w.Snapshot()
	a := s.Agents[0]
	if a.VelX != 3 || a.VelY != -1 {
		t.Errorf("velocity changed while throttled: (%v, %v)", a.VelX, a.VelY)
	}
	if a.X != 103 || a.Y != 99 {
		t.Errorf("position = (%v, %v), want (103, 99)", a.X, a.Y)
	}
}

// ---------- Social ----------

func TestSocial_CountsAllies(t *testing.T) {
	cfg := testConfig(t)
	tr := quietTraits()
	tr.SocialBehavior = 80
	tr.VisionRange = 100 // ally radius 150
	other := quietTraits()
	pops := []population.Population{
		{ID: "flock", DefaultTraits: tr},
		{ID: "other", DefaultTraits: other},
	}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "flock", X: 300, Y: 300, Energy: 50, Age: 10, Traits: tr},
		{ID: 2, PopulationID: "flock", X: 350, Y: 300, Energy: 50, Traits: tr},
		{ID: 3, PopulationID: "flock", X: 300, Y: 500, Energy: 50, Traits: tr}, // out of radius
		{ID: 4, PopulationID: "other", X: 310, Y: 300, Energy: 50, Traits: other},
	})

	w.Update()

	rd := w.RenderData()
	if rd.Organisms[0].Allies != 1 {
		t.Errorf("allies = %d, want 1", rd.Organisms[0].Allies)
	}
}

// ---------- Live updates ----------

func TestUpdatePopulations_ClampsEnergy(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	pops := population.Defaults()
	pops[1].DefaultTraits.MaxEnergy = 10 // tank

	if err := w.UpdatePopulations(pops); err != nil {
		t.Fatalf("UpdatePopulations: %v", err)
	}
	for _, a := range w.Snapshot().Agents {
		if a.PopulationID != "tank" {
			continue
		}
		if a.Traits.MaxEnergy != 10 {
			t.Errorf("tank max energy = %v, want 10", a.Traits.MaxEnergy)
		}
		if a.Energy > 10 {
			t.Errorf("tank energy %v above new max", a.Energy)
		}
	}

	if err := w.UpdatePopulations(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty update err = %v, want ErrInvalidConfig", err)
	}
}

func TestSetConfig_WrapsPositions(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	wc := cfg.World
	wc.Width, wc.Height = 200, 100
	if err := w.SetConfig(wc); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	checkInvariants(t, w)
	w.Update()
	checkInvariants(t, w)

	wc.Width = -1
	if err := w.SetConfig(wc); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestSetConfig_RejectsBadFoodEnergy(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{-1000, math.NaN(), math.Inf(1)} {
		wc := cfg.World
		wc.FoodEnergyValue = v
		if err := w.SetConfig(wc); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("food energy %v: err = %v, want ErrInvalidConfig", v, err)
		}
	}
	if got := w.Config().World.FoodEnergyValue; got != cfg.World.FoodEnergyValue {
		t.Errorf("food energy = %v after rejected updates, want %v", got, cfg.World.FoodEnergyValue)
	}
}

func TestUpdatePopulations_RejectsNaNTraits(t *testing.T) {
	w, err := NewWorld(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	pops := population.Defaults()
	pops[0].DefaultTraits.MaxEnergy = float32(math.NaN())
	if err := w.UpdatePopulations(pops); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

// ---------- Snapshots ----------

func TestSnapshot_RoundTrip(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 150; i++ {
		w.Update()
	}

	data, err := json.Marshal(w.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	r, err := Restore(cfg, &s)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if r.Tick() != w.Tick() || r.AgentCount() != w.AgentCount() || r.FoodCount() != w.FoodCount() {
		t.Fatalf("restored tick/agents/food = %d/%d/%d, want %d/%d/%d",
			r.Tick(), r.AgentCount(), r.FoodCount(), w.Tick(), w.AgentCount(), w.FoodCount())
	}
	orig, back := w.Snapshot(), r.Snapshot()
	for i := range orig.Agents {
		if orig.Agents[i].Traits != back.Agents[i].Traits {
			t.Fatalf("agent %d traits differ after restore", orig.Agents[i].ID)
		}
	}

	// The RNG state travels with the snapshot, so both worlds stay in lockstep.
	for i := 0; i < 100; i++ {
		w.Update()
		r.Update()
	}
	if !reflect.DeepEqual(w.RenderData(), r.RenderData()) {
		t.Error("restored world diverged from original")
	}
}

func TestRestore_RejectsVersion(t *testing.T) {
	cfg := testConfig(t)
	_, err := Restore(cfg, &Snapshot{Version: 99})
	if !errors.Is(err, ErrSnapshotVersion) {
		t.Errorf("err = %v, want ErrSnapshotVersion", err)
	}
}

func TestRestore_ClampsAgents(t *testing.T) {
	cfg := testConfig(t)
	tr := quietTraits()
	wild := tr
	wild.Size = 400
	wild.MaxEnergy = 60
	pops := []population.Population{{ID: "a", DefaultTraits: tr}}
	w := scenarioWorld(t, cfg, pops, []AgentState{
		{ID: 1, PopulationID: "a", X: 10, Y: 10, Energy: 500, Traits: wild},
		{ID: 2, PopulationID: "a", X: 50, Y: 10, Energy: -20, Traits: tr},
	})

	s := w.Snapshot()
	if got := s.Agents[0].Traits.Size; got != 100 {
		t.Errorf("size = %v, want clamped to 100", got)
	}
	if got := s.Agents[0].Energy; got != 60 {
		t.Errorf("energy = %v, want clamped to max 60", got)
	}
	if got := s.Agents[1].Energy; got != 0 {
		t.Errorf("energy = %v, want clamped to 0", got)
	}
}

func TestRestore_RejectsBadAgents(t *testing.T) {
	tr := quietTraits()
	nanTraits := tr
	nanTraits.Speed = float32(math.NaN())

	tests := []struct {
		name   string
		agents []AgentState
	}{
		{"duplicate id", []AgentState{
			{ID: 1, PopulationID: "a", Energy: 10, Traits: tr},
			{ID: 1, PopulationID: "a", X: 5, Energy: 10, Traits: tr},
		}},
		{"NaN trait", []AgentState{{ID: 1, PopulationID: "a", Energy: 10, Traits: nanTraits}}},
		{"NaN energy", []AgentState{{ID: 1, PopulationID: "a", Energy: float32(math.NaN()), Traits: tr}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			s := &Snapshot{
				Version:     SnapshotVersion,
				Seed:        7,
				World:       cfg.World,
				Populations: []population.Population{{ID: "a", DefaultTraits: tr}},
				Agents:      tt.agents,
			}
			if _, err := Restore(cfg, s); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

// ---------- Perf hooks ----------

type recordingTimer struct {
	ticks  int
	phases []string
}

func (r *recordingTimer) StartTick()             { r.ticks++ }
func (r *recordingTimer) StartPhase(name string) { r.phases = append(r.phases, name) }
func (r *recordingTimer) EndTick()               {}

func TestUpdate_ReportsPhases(t *testing.T) {
	w, err := NewWorld(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingTimer{}
	w.SetPerf(rec)
	w.Update()

	want := []string{PhaseSpatialIndex, PhaseAgents, PhaseCleanup, PhaseFood, PhaseReproduction, PhaseCensus}
	if rec.ticks != 1 || !reflect.DeepEqual(rec.phases, want) {
		t.Errorf("ticks=%d phases=%v", rec.ticks, rec.phases)
	}
}
