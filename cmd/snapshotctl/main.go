// Command snapshotctl inspects and manages stored simulation snapshots.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/evosim/config"
	"github.com/pthm-cable/evosim/game"
	"github.com/pthm-cable/evosim/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type storeFlags struct {
	configPath string
	kind       string
	path       string
}

// open resolves the backend from the config file, then the flags.
func (f *storeFlags) open(ctx context.Context) (storage.Store, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	kind, path := cfg.Storage.Kind, cfg.Storage.Path
	if f.kind != "" {
		kind = f.kind
	}
	if f.path != "" {
		path = f.path
	}
	store, err := storage.NewStore(kind, path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("opening %s store: %w", kind, err)
	}
	return store, nil
}

func newRootCmd() *cobra.Command {
	flags := &storeFlags{}
	root := &cobra.Command{
		Use:   "snapshotctl",
		Short: "Manage simulation snapshots",
		Long: `Inspect and manage snapshots saved by the simulation.

The store backend and location come from the simulation config unless
--store and --path are given.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config.yaml (empty = use defaults)")
	root.PersistentFlags().StringVar(&flags.kind, "store", "", "Store backend: memory, file or sqlite")
	root.PersistentFlags().StringVar(&flags.path, "path", "", "Snapshot directory or database file")

	root.AddCommand(
		newListCmd(flags),
		newShowCmd(flags),
		newDeleteCmd(flags),
		newExportCmd(flags),
		newImportCmd(flags),
	)
	return root
}

// withStore opens the store for the duration of fn.
func withStore(cmd *cobra.Command, flags *storeFlags, fn func(context.Context, storage.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := flags.open(ctx)
	if err != nil {
		return err
	}
	defer storage.CloseIfSupported(store)
	return fn(ctx, store)
}

func newListCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store storage.Store) error {
				infos, err := store.List(ctx)
				if err != nil {
					return err
				}
				return printInfos(cmd.OutOrStdout(), infos)
			})
		},
	}
}

func printInfos(w io.Writer, infos []storage.Info) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTICK\tAGENTS\tRUN\tSAVED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			info.Key, info.Tick, info.Agents, info.RunID, info.SavedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func newShowCmd(flags *storeFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Summarize a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store storage.Store) error {
				snap, err := load(ctx, store, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(snap)
				}
				return printSummary(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full snapshot as JSON")
	return cmd
}

func load(ctx context.Context, store storage.Store, key string) (*game.Snapshot, error) {
	snap, ok, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no snapshot stored under %q", key)
	}
	return snap, nil
}

func printSummary(w io.Writer, s *game.Snapshot) error {
	counts := make(map[string]int)
	for _, a := range s.Agents {
		counts[a.PopulationID]++
	}
	fmt.Fprintf(w, "run:     %s\n", s.RunID)
	fmt.Fprintf(w, "tick:    %d\n", s.Tick)
	fmt.Fprintf(w, "seed:    %d\n", s.Seed)
	fmt.Fprintf(w, "running: %t\n", s.Running)
	fmt.Fprintf(w, "world:   %.0fx%.0f, %d food\n", s.World.Width, s.World.Height, len(s.Food))
	fmt.Fprintf(w, "births:  %d (%d blocked)\n", s.Stats.Births, s.Stats.BirthsBlocked)
	fmt.Fprintf(w, "deaths:  %d age, %d starvation, %d predation\n",
		s.Stats.DeathsAge, s.Stats.DeathsStarvation, s.Stats.DeathsPredation)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POPULATION\tNAME\tAGENTS")
	seen := make(map[string]bool, len(s.Populations))
	for _, p := range s.Populations {
		seen[p.ID] = true
		fmt.Fprintf(tw, "%s\t%s\t%d\n", p.ID, p.Name, counts[p.ID])
	}
	var orphans []string
	for id := range counts {
		if !seen[id] {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	for _, id := range orphans {
		fmt.Fprintf(tw, "%s\t-\t%d\n", id, counts[id])
	}
	return tw.Flush()
}

func newDeleteCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store storage.Store) error {
				for _, key := range args {
					if err := store.Delete(ctx, key); err != nil {
						return fmt.Errorf("deleting %s: %w", key, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
				}
				return nil
			})
		},
	}
}

func newExportCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export <key> <file>",
		Short: "Write a snapshot to a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store storage.Store) error {
				snap, err := load(ctx, store, args[0])
				if err != nil {
					return err
				}
				data, err := storage.EncodeSnapshot(snap)
				if err != nil {
					return err
				}
				return os.WriteFile(args[1], data, 0644)
			})
		},
	}
}

func newImportCmd(flags *storeFlags) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import <file> <key>",
		Short: "Store a snapshot read from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			snap, err := storage.DecodeSnapshot(data)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return withStore(cmd, flags, func(ctx context.Context, store storage.Store) error {
				key := args[1]
				if !overwrite {
					exists, err := store.Has(ctx, key)
					if err != nil {
						return err
					}
					if exists {
						return fmt.Errorf("snapshot %q already exists (use --overwrite)", key)
					}
				}
				return store.Save(ctx, key, snap)
			})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing snapshot")
	return cmd
}
