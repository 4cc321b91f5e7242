package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/game"
	"github.com/pthm-cable/evosim/population"
)

func testSnapshot(t *testing.T, ticks int) *game.Snapshot {
	t.Helper()
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Simulation.Seed = 3

	w, err := game.NewWorld(cfg, population.Defaults())
	require.NoError(t, err)
	for range ticks {
		w.Update()
	}
	s := w.Snapshot()
	s.RunID = "run-1"
	return s
}

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"file", func(t *testing.T) Store { return NewFileStore(filepath.Join(t.TempDir(), "snaps")) }},
		{"sqlite", func(t *testing.T) Store { return NewSQLiteStore(filepath.Join(t.TempDir(), "snaps.db")) }},
	}
}

func openStore(t *testing.T, b backend) Store {
	t.Helper()
	store := b.open(t)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = CloseIfSupported(store) })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	snap := testSnapshot(t, 5)
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, b)

			require.NoError(t, store.Save(ctx, "alpha", snap))
			got, ok, err := store.Load(ctx, "alpha")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, snap, got)

			_, ok, err = store.Load(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRestoredWorldMatches(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	snap := testSnapshot(t, 10)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, b)
			require.NoError(t, store.Save(ctx, "k", snap))
			got, _, err := store.Load(ctx, "k")
			require.NoError(t, err)

			a, err := game.Restore(cfg, snap)
			require.NoError(t, err)
			c, err := game.Restore(cfg, got)
			require.NoError(t, err)
			for range 20 {
				a.Update()
				c.Update()
			}
			assert.Equal(t, a.Snapshot(), c.Snapshot())
		})
	}
}

func TestStoreOverwriteAndList(t *testing.T) {
	first := testSnapshot(t, 1)
	second := testSnapshot(t, 4)
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, b)

			require.NoError(t, store.Save(ctx, "beta", first))
			require.NoError(t, store.Save(ctx, "alpha", first))
			require.NoError(t, store.Save(ctx, "beta", second))

			got, ok, err := store.Load(ctx, "beta")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second.Tick, got.Tick)

			infos, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, "alpha", infos[0].Key)
			assert.Equal(t, "beta", infos[1].Key)
			assert.Equal(t, second.Tick, infos[1].Tick)
			assert.Equal(t, len(second.Agents), infos[1].Agents)
			assert.Equal(t, "run-1", infos[1].RunID)
			assert.False(t, infos[1].SavedAt.IsZero())
		})
	}
}

func TestStoreHasDelete(t *testing.T) {
	snap := testSnapshot(t, 0)
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, b)

			has, err := store.Has(ctx, "x")
			require.NoError(t, err)
			assert.False(t, has)

			require.NoError(t, store.Save(ctx, "x", snap))
			has, err = store.Has(ctx, "x")
			require.NoError(t, err)
			assert.True(t, has)

			require.NoError(t, store.Delete(ctx, "x"))
			require.NoError(t, store.Delete(ctx, "x"))
			has, err = store.Has(ctx, "x")
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestStoreInvalidKey(t *testing.T) {
	snap := testSnapshot(t, 0)
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, b)
			for _, key := range []string{"", ".", "..", "a/b", `a\b`} {
				assert.ErrorIs(t, store.Save(ctx, key, snap), ErrInvalidKey, "key %q", key)
				_, _, err := store.Load(ctx, key)
				assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
			}
			assert.Error(t, store.Save(ctx, "ok", nil))
		})
	}
}

func TestStoreNotInitialized(t *testing.T) {
	snap := testSnapshot(t, 0)
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			assert.ErrorIs(t, store.Save(ctx, "k", snap), ErrNotInitialized)
			_, _, err := store.Load(ctx, "k")
			assert.ErrorIs(t, err, ErrNotInitialized)
			_, err = store.List(ctx)
			assert.ErrorIs(t, err, ErrNotInitialized)
		})
	}
}

func TestDecodeSnapshotVersion(t *testing.T) {
	snap := testSnapshot(t, 0)
	snap.Version = game.SnapshotVersion + 1
	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	_, err = DecodeSnapshot(data)
	assert.ErrorIs(t, err, game.ErrSnapshotVersion)

	_, err = DecodeSnapshot([]byte("{"))
	assert.Error(t, err)
}

func TestFileStoreSkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, store.Init(ctx))

	require.NoError(t, store.Save(ctx, "good", testSnapshot(t, 0)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "good", infos[0].Key)

	_, _, err = store.Load(ctx, "broken")
	assert.Error(t, err)
}

func TestNewStore(t *testing.T) {
	for kind, want := range map[string]any{
		"":       &MemoryStore{},
		"memory": &MemoryStore{},
		"file":   &FileStore{},
		"sqlite": &SQLiteStore{},
	} {
		store, err := NewStore(kind, t.TempDir())
		require.NoError(t, err)
		assert.IsType(t, want, store, "kind %q", kind)
	}

	_, err := NewStore("postgres", "")
	assert.Error(t, err)

	assert.NoError(t, CloseIfSupported(NewMemoryStore()))
	assert.Error(t, NewFileStore("").Init(context.Background()))
}
