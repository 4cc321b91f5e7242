package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/game"
	"github.com/pthm-cable/evosim/population"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Simulation.Seed = 1
	cfg.Simulation.PerfLogInterval = 0
	return cfg
}

func ofType[T Event](evs []Event) []T {
	var out []T
	for _, ev := range evs {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// bogus is a command the engine does not know.
type bogus struct{}

func (bogus) command() {}

func newInline(t *testing.T, cfg *config.Config, opts Options) *Inline {
	t.Helper()
	in, err := NewInline(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })
	return in
}

func send(t *testing.T, r Runner, cmds ...Command) {
	t.Helper()
	for _, c := range cmds {
		require.NoError(t, r.Send(context.Background(), c))
	}
}

// ---------- Period ----------

func TestPeriodFor(t *testing.T) {
	assert.Equal(t, BasePeriod, periodFor(1))
	assert.Equal(t, BasePeriod/2, periodFor(2))
	assert.Equal(t, time.Duration(float64(BasePeriod)/0.5), periodFor(0.5))
	assert.Equal(t, time.Microsecond, periodFor(1e12))
}

// ---------- Inline runner ----------

func TestInline_InitAndStart(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, Init{}, Start{})

	evs := in.Pump(time.Unix(0, 0))
	inits := ofType[Initialized](evs)
	require.Len(t, inits, 1)
	assert.True(t, inits[0].Success)
	assert.Equal(t, int64(1), inits[0].Seed)
	assert.Equal(t, 25, inits[0].Agents)
	assert.Equal(t, int64(1), in.eng.world.Tick())
}

func TestInline_CatchUpIsCapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.MaxCatchUp = 5
	in := newInline(t, cfg, Options{})
	send(t, in, Init{}, Start{})

	t0 := time.Unix(100, 0)
	p := in.eng.period()
	in.Pump(t0)
	require.Equal(t, int64(1), in.eng.world.Tick())

	in.Pump(t0.Add(10 * p))
	assert.Equal(t, int64(6), in.eng.world.Tick(), "5 catch-up ticks, rest skipped")

	in.Pump(t0.Add(11 * p))
	assert.Equal(t, int64(7), in.eng.world.Tick())

	in.Pump(t0.Add(11*p + p/2))
	assert.Equal(t, int64(7), in.eng.world.Tick(), "not due yet")
}

func TestInline_KeepsLatestRender(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.RenderEvery = 2
	in := newInline(t, cfg, Options{})
	send(t, in, Init{}, Start{})

	t0 := time.Unix(100, 0)
	p := in.eng.period()
	assert.Empty(t, ofType[RenderData](in.Pump(t0)))

	// Scheduler ticks 2 through 6 render three times; only the last survives.
	renders := ofType[RenderData](in.Pump(t0.Add(5 * p)))
	require.Len(t, renders, 1)
	assert.Equal(t, int64(6), renders[0].Tick)
	assert.Len(t, renders[0].Organisms, in.eng.world.AgentCount())
}

func TestInline_StatsCadence(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.StatsEvery = 3
	cfg.Scheduler.MaxCatchUp = 100
	in := newInline(t, cfg, Options{})
	send(t, in, Init{}, Start{})

	t0 := time.Unix(100, 0)
	in.Pump(t0)
	stats := ofType[Stats](in.Pump(t0.Add(8 * in.eng.period())))

	require.Len(t, stats, 3)
	for i, s := range stats {
		assert.Equal(t, int64(3*(i+1)), s.Tick)
	}
	assert.Equal(t, in.eng.world.AgentCount(), stats[2].TotalOrganisms)
}

func TestInline_CountsOverruns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Speed = 1000
	cfg.Scheduler.StatsEvery = 2
	in := newInline(t, cfg, Options{})
	in.eng.beforeTick = func(*game.World) { time.Sleep(time.Millisecond) }
	send(t, in, Init{}, Start{})

	t0 := time.Unix(100, 0)
	in.Pump(t0)
	stats := ofType[Stats](in.Pump(t0.Add(3 * in.eng.period())))

	require.Len(t, stats, 2)
	assert.Equal(t, int64(2), stats[0].Overruns)
	assert.Equal(t, int64(4), stats[1].Overruns, "overruns are cumulative")
	assert.Equal(t, int64(4), in.eng.reported)
}

func TestInline_StopHaltsTicks(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, Init{}, Start{})
	t0 := time.Unix(100, 0)
	in.Pump(t0)

	send(t, in, Stop{})
	in.Pump(t0.Add(time.Second))
	assert.Equal(t, int64(1), in.eng.world.Tick())
}

func TestInline_ResetRebuildsAndStops(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, Init{}, Start{})
	t0 := time.Unix(100, 0)
	in.Pump(t0)

	wc := in.eng.cfg.World
	wc.Width = 500
	send(t, in, Reset{World: &wc})
	evs := in.Pump(t0.Add(time.Second))

	require.Len(t, ofType[Initialized](evs), 1)
	assert.False(t, in.eng.running)
	assert.Equal(t, int64(0), in.eng.world.Tick())
	assert.Equal(t, 500.0, in.eng.world.Config().World.Width)
}

// ---------- Commands ----------

func TestCommands_RequireInit(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"start", Start{}},
		{"update populations", UpdatePopulations{Populations: population.Defaults()}},
		{"update world config", UpdateWorldConfig{}},
		{"snapshot", RequestSnapshot{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newInline(t, testConfig(t), Options{})
			send(t, in, tt.cmd)
			errs := ofType[Error](in.Pump(time.Now()))
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0].Err, ErrNotInitialized)
			assert.NotEmpty(t, errs[0].Message)
		})
	}
}

func TestCommands_Unknown(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, bogus{}, nil)
	errs := ofType[Error](in.Pump(time.Now()))
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.ErrorIs(t, e.Err, ErrUnknownCommand)
	}
}

func TestCommands_InvalidInitKeepsNoWorld(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, Init{})
	in.Pump(time.Now())
	require.NotNil(t, in.eng.world)

	bad := in.eng.cfg.World
	bad.Width = 0
	send(t, in, Init{World: &bad}, Start{})
	errs := ofType[Error](in.Pump(time.Now()))

	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0].Err, game.ErrInvalidConfig)
	assert.ErrorIs(t, errs[1].Err, ErrNotInitialized)
	assert.Nil(t, in.eng.world)
}

func TestCommands_SetSpeed(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, SetSpeed{Speed: 4})
	assert.Empty(t, in.Pump(time.Now()))
	assert.Equal(t, BasePeriod/4, in.eng.period())

	for _, s := range []float64{0, -1} {
		send(t, in, SetSpeed{Speed: s})
		errs := ofType[Error](in.Pump(time.Now()))
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0].Err, ErrInvalidSpeed)
	}
	assert.Equal(t, BasePeriod/4, in.eng.period())
}

func TestCommands_UpdateWorldConfig(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, Init{})
	in.Pump(time.Now())

	wc := in.eng.cfg.World
	wc.MaxFoodCount = 5
	send(t, in, UpdateWorldConfig{Config: wc})
	assert.Empty(t, ofType[Error](in.Pump(time.Now())))
	assert.Equal(t, 5, in.eng.world.Config().World.MaxFoodCount)

	wc.Height = -1
	send(t, in, UpdateWorldConfig{Config: wc})
	errs := ofType[Error](in.Pump(time.Now()))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, config.ErrInvalid)
}

func TestCommands_PayloadsAreCopied(t *testing.T) {
	cfg := testConfig(t)
	pops := cfg.Populations
	in := newInline(t, cfg, Options{})

	require.NoError(t, in.Send(context.Background(), Init{Populations: pops}))
	pops[0].InitialCount = 50
	in.Pump(time.Now())

	assert.Equal(t, 25, in.eng.world.AgentCount())
}

// ---------- Snapshots ----------

func TestSnapshot_RequestAndLoad(t *testing.T) {
	cfg := testConfig(t)
	in := newInline(t, cfg, Options{RunID: "run-1"})
	send(t, in, Init{}, Start{})
	t0 := time.Unix(100, 0)
	in.Pump(t0)
	in.Pump(t0.Add(4 * in.eng.period()))

	send(t, in, RequestSnapshot{})
	ready := ofType[SnapshotReady](in.Pump(t0.Add(4 * in.eng.period())))
	require.Len(t, ready, 1)
	snap := ready[0].Snapshot
	assert.Equal(t, "run-1", snap.RunID)
	assert.True(t, snap.Running)
	assert.Equal(t, in.eng.world.Tick(), snap.Tick)

	other := newInline(t, cfg, Options{})
	send(t, other, LoadSnapshot{Snapshot: snap})
	inits := ofType[Initialized](other.Pump(t0))
	require.Len(t, inits, 1)
	assert.Equal(t, snap.Tick, inits[0].Tick)
	assert.Equal(t, len(snap.Agents), inits[0].Agents)
	assert.True(t, other.eng.running)
}

func TestSnapshot_LoadRejectsVersion(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, LoadSnapshot{Snapshot: &game.Snapshot{Version: 99}})
	errs := ofType[Error](in.Pump(time.Now()))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, game.ErrSnapshotVersion)
}

// ---------- Failure handling ----------

var errBoom = errors.New("boom")

func TestTickPanic_StopsLoop(t *testing.T) {
	in := newInline(t, testConfig(t), Options{})
	send(t, in, Init{}, Start{})
	t0 := time.Unix(100, 0)
	in.Pump(t0)

	in.eng.beforeTick = func(w *game.World) {
		w.Update()
		panic(errBoom)
	}
	errs := ofType[Error](in.Pump(t0.Add(in.eng.period())))

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, errBoom)
	assert.Equal(t, "tick 2: boom", errs[0].Message)
	assert.True(t, errs[0].Halted)
	assert.False(t, in.eng.running)
	assert.Equal(t, int64(2), in.eng.world.Tick(), "partial tick is kept without rollback")
}

func TestTickPanic_Rollback(t *testing.T) {
	in := newInline(t, testConfig(t), Options{Rollback: true})
	send(t, in, Init{}, Start{})
	t0 := time.Unix(100, 0)
	in.Pump(t0)
	before := in.eng.world.Snapshot()

	in.eng.beforeTick = func(w *game.World) {
		w.Update()
		panic("not an error")
	}
	errs := ofType[Error](in.Pump(t0.Add(in.eng.period())))

	require.Len(t, errs, 1)
	assert.Equal(t, "tick 2: not an error", errs[0].Message)
	assert.Equal(t, int64(1), in.eng.world.Tick())
	assert.Equal(t, before.Agents, in.eng.world.Snapshot().Agents)
}

// ---------- Background runner ----------

func TestBackground_EmitsStats(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Speed = 50
	cfg.Scheduler.StatsEvery = 10

	b, err := NewBackground(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer b.Close()

	send(t, b, Init{}, Start{})

	var sawInit bool
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			switch ev := ev.(type) {
			case Initialized:
				sawInit = true
			case Stats:
				require.True(t, sawInit, "stats before initialized")
				assert.Zero(t, ev.Tick%10)
				return
			case Error:
				t.Fatalf("unexpected error event: %s", ev.Message)
			}
		case <-timeout:
			t.Fatal("no stats event within 5s")
		}
	}
}

func TestBackground_DropsRenderWhenBehind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Speed = 100
	cfg.Scheduler.RenderEvery = 1
	cfg.Scheduler.EventBuffer = 1

	b, err := NewBackground(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer b.Close()

	send(t, b, Init{}, Start{})
	assert.Eventually(t, func() bool { return b.Dropped() > 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestBackground_CloseEndsStream(t *testing.T) {
	b, err := NewBackground(context.Background(), testConfig(t), Options{})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	for range b.Events() {
	}
	assert.ErrorIs(t, b.Send(context.Background(), Start{}), ErrClosed)
}

func TestBackground_RunReturnsOnCancel(t *testing.T) {
	b, err := NewBackground(context.Background(), testConfig(t), Options{})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	send(t, b, Init{})
	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, func(ev Event) { got <- ev }) }()

	select {
	case ev := <-got:
		assert.IsType(t, Initialized{}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// ---------- Open ----------

func TestOpen_SelectsMode(t *testing.T) {
	cfg := testConfig(t)

	r, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.IsType(t, &Background{}, r)
	require.NoError(t, r.Close())

	r, err = Open(context.Background(), cfg, Options{Inline: true})
	require.NoError(t, err)
	assert.IsType(t, &Inline{}, r)
	require.NoError(t, r.Close())

	cfg.Scheduler.Background = false
	r, err = Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.IsType(t, &Inline{}, r)
	require.NoError(t, r.Close())
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.MaxPopulation = 0
	_, err := Open(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, config.ErrInvalid)

	cfg.Scheduler.Background = false
	_, err = Open(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestInline_SendAfterClose(t *testing.T) {
	in, err := NewInline(testConfig(t), Options{})
	require.NoError(t, err)
	require.NoError(t, in.Close())
	assert.ErrorIs(t, in.Send(context.Background(), Start{}), ErrClosed)
}
