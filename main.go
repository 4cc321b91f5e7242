package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/game"
	"github.com/pthm-cable/evosim/scheduler"
	"github.com/pthm-cable/evosim/storage"
	"github.com/pthm-cable/evosim/telemetry"
)

// snapshotTimeout bounds the wait for SnapshotReady on shutdown.
const snapshotTimeout = 5 * time.Second

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	watch := flag.Bool("watch", false, "Reload world and population settings when the config file changes")
	inline := flag.Bool("inline", false, "Tick on the event loop instead of a background worker")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	statsWindow := flag.Int("stats-window", 0, "Stats window size in ticks (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config)")
	speed := flag.Float64("speed", 0, "Speed multiplier (0 = use config)")
	maxTicks := flag.Int64("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	storeKind := flag.String("store", "", "Snapshot store: memory, file or sqlite (empty = use config)")
	storePath := flag.String("store-path", "", "Snapshot directory or database file (empty = use config)")
	loadKey := flag.String("load", "", "Resume from the snapshot stored under this key")
	saveKey := flag.String("save", "", "Store a snapshot under this key on exit")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	runID := uuid.NewString()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("run_id", runID)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}
	if *speed > 0 {
		cfg.Scheduler.Speed = *speed
	}
	if *statsWindow > 0 {
		cfg.Telemetry.StatsWindow = *statsWindow
	}
	if *storeKind != "" {
		cfg.Storage.Kind = *storeKind
	}
	if *storePath != "" {
		cfg.Storage.Path = *storePath
	}

	opts := runOptions{
		configPath: *configPath,
		watch:      *watch,
		inline:     *inline,
		logStats:   *logStats,
		outputDir:  *outputDir,
		maxTicks:   *maxTicks,
		loadKey:    *loadKey,
		saveKey:    *saveKey,
		runID:      runID,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	configPath string
	watch      bool
	inline     bool
	logStats   bool
	outputDir  string
	maxTicks   int64
	loadKey    string
	saveKey    string
	runID      string
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	store, err := storage.NewStore(cfg.Storage.Kind, cfg.Storage.Path)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer storage.CloseIfSupported(store)

	out, err := telemetry.NewOutputManager(opts.outputDir)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		slog.Warn("failed to write config", "error", err)
	}

	// The worker and event loop get their own context so they outlive a
	// shutdown signal long enough to deliver the final snapshot.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	runner, err := scheduler.Open(runCtx, cfg, scheduler.Options{
		Inline: opts.inline,
		RunID:  opts.runID,
		Logger: slog.Default(),
	})
	if err != nil {
		return err
	}
	defer runner.Close()

	s := newSession(cfg, out, opts.maxTicks, opts.logStats)

	start := scheduler.Command(scheduler.Init{})
	if opts.loadKey != "" {
		snap, ok, err := store.Load(ctx, opts.loadKey)
		if err != nil {
			return fmt.Errorf("loading snapshot %s: %w", opts.loadKey, err)
		}
		if !ok {
			return fmt.Errorf("no snapshot stored under %q", opts.loadKey)
		}
		s.collector.Reset(snap.Tick, snap.Stats)
		start = scheduler.LoadSnapshot{Snapshot: snap}
		slog.Info("resuming from snapshot", "key", opts.loadKey, "tick", snap.Tick, "agents", len(snap.Agents))
	}
	for _, cmd := range []scheduler.Command{start, scheduler.Start{}} {
		if err := runner.Send(ctx, cmd); err != nil {
			return err
		}
	}

	slog.Info("starting simulation",
		"seed", cfg.Simulation.Seed,
		"speed", cfg.Scheduler.Speed,
		"background", cfg.Scheduler.Background && !opts.inline,
		"max_ticks", opts.maxTicks,
		"store", cfg.Storage.Kind,
	)

	var watcher *config.Watcher
	if opts.watch && opts.configPath != "" {
		if watcher, err = config.NewWatcher(opts.configPath); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		err := runner.Run(runCtx, s.handle)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, func(c *config.Config) {
				forward(gctx, runner, c)
			})
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.finished:
		}
		defer cancelRun()
		if opts.saveKey == "" {
			return nil
		}
		return saveSnapshot(runner, store, s, opts.saveKey)
	})

	err = g.Wait()
	slog.Info("simulation stopped", "tick", s.lastTick())
	return err
}

// forward pushes a reloaded config into the running simulation.
func forward(ctx context.Context, runner scheduler.Runner, c *config.Config) {
	cmds := []scheduler.Command{
		scheduler.UpdateWorldConfig{Config: c.World},
		scheduler.UpdatePopulations{Populations: c.Populations},
	}
	for _, cmd := range cmds {
		if err := runner.Send(ctx, cmd); err != nil {
			slog.Warn("failed to apply reloaded config", "error", err)
			return
		}
	}
}

func saveSnapshot(runner scheduler.Runner, store storage.Store, s *session, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	for _, cmd := range []scheduler.Command{scheduler.Stop{}, scheduler.RequestSnapshot{}} {
		if err := runner.Send(ctx, cmd); err != nil {
			return fmt.Errorf("requesting snapshot: %w", err)
		}
	}
	select {
	case snap := <-s.snapshots:
		if err := store.Save(ctx, key, snap); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		slog.Info("snapshot saved", "key", key, "tick", snap.Tick, "agents", len(snap.Agents))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for snapshot: %w", ctx.Err())
	}
}

// session consumes scheduler events: it aggregates windows, detects
// bookmarks and writes the CSV output.
type session struct {
	collector *telemetry.Collector
	detector  *telemetry.BookmarkDetector
	out       *telemetry.OutputManager
	logStats  bool
	maxTicks  int64

	agents    []game.AgentView
	tick      int64
	mu        sync.Mutex
	finished  chan struct{}
	finish    sync.Once
	snapshots chan *game.Snapshot
}

func newSession(cfg *config.Config, out *telemetry.OutputManager, maxTicks int64, logStats bool) *session {
	return &session{
		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		detector:  telemetry.NewBookmarkDetector(10),
		out:       out,
		logStats:  logStats,
		maxTicks:  maxTicks,
		finished:  make(chan struct{}),
		snapshots: make(chan *game.Snapshot, 1),
	}
}

func (s *session) lastTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

func (s *session) stop() {
	s.finish.Do(func() { close(s.finished) })
}

func (s *session) handle(ev scheduler.Event) {
	switch ev := ev.(type) {
	case scheduler.Initialized:
		slog.Info("world initialized", "tick", ev.Tick, "seed", ev.Seed, "agents", ev.Agents)
	case scheduler.RenderData:
		s.agents = ev.Organisms
		s.observeTick(ev.Tick)
	case scheduler.Stats:
		s.onStats(ev)
	case scheduler.SnapshotReady:
		select {
		case s.snapshots <- ev.Snapshot:
		default:
		}
	case scheduler.Error:
		slog.Error("simulation error", "error", ev.Err)
		// A halted tick or a start without a world leaves nothing to run.
		if ev.Halted || errors.Is(ev.Err, scheduler.ErrNotInitialized) {
			s.stop()
		}
	}
}

// observeTick records the latest world tick. Render events arrive every few
// ticks, so the tick limit is honored well before the next stats event.
func (s *session) observeTick(tick int64) {
	s.mu.Lock()
	s.tick = max(s.tick, tick)
	s.mu.Unlock()

	if s.maxTicks > 0 && tick >= s.maxTicks {
		s.stop()
	}
}

func (s *session) onStats(ev scheduler.Stats) {
	s.observeTick(ev.Tick)

	if s.collector.ShouldFlush(ev.Tick) {
		ws, pops := s.collector.Flush(telemetry.Sample{Stats: ev.Stats, Agents: s.agents, Overruns: ev.Overruns})
		if s.logStats {
			ws.LogStats()
			ev.Perf.LogStats()
		}
		if err := s.out.WriteTelemetry(ws); err != nil {
			slog.Warn("failed to write telemetry", "error", err)
		}
		if err := s.out.WritePopulations(pops); err != nil {
			slog.Warn("failed to write populations", "error", err)
		}
		if err := s.out.WritePerf(ev.Perf, ws.WindowEndTick); err != nil {
			slog.Warn("failed to write perf", "error", err)
		}
		for _, b := range s.detector.Check(ws, pops) {
			b.LogBookmark()
			if err := s.out.WriteBookmark(b); err != nil {
				slog.Warn("failed to write bookmark", "error", err)
			}
		}
	}

	if ev.TotalOrganisms == 0 {
		slog.Info("all organisms died", "tick", ev.Tick)
		s.stop()
	}
}
