package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vladzaharia/dangerprep-sync/pkg/client"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/store"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [target]",
	Short: "Show past sync cycles",
	Long: `Show the results of past cycles, newest first, for every target or one.

Examples:
  dpsync history
  dpsync history usb --limit 5
  dpsync history show 01J9Z3...
  dpsync history clean --keep 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <cycle-id>",
	Short: "Show the manifest a cycle executed",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean [target]",
	Short: "Prune stored results and manifests",
	Long: `Prune history to the newest --keep results and manifests per target.
Runs against the state database directly, so the daemon must be stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistoryClean,
}

var (
	historyLimit  int
	historyFormat string
	historyKeep   int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 10, "results per target")
	historyCmd.Flags().StringVarP(&historyFormat, "output", "o", "text", "output format: text, json, yaml")
	addOutputFlags(historyShowCmd)
	historyCleanCmd.Flags().IntVar(&historyKeep, "keep", 0, "results to keep per target")

	historyCmd.AddCommand(historyShowCmd, historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	name := targetArg(args)
	var results []types.SyncResult
	if c := connectDaemon(ctx, cfg); c != nil {
		defer c.Close()
		results, err = daemonHistory(ctx, c, cfg, name)
	} else {
		results, err = storeHistory(cfg, name)
	}
	if err != nil {
		return err
	}
	if len(results) == 0 && historyFormat == "text" {
		printInfo("no history")
		return nil
	}
	return renderResults(os.Stdout, historyFormat, results)
}

func historyTargets(cfg *config.Config, name string) ([]string, error) {
	if name != "" {
		if _, ok := cfg.Target(name); !ok {
			return nil, fmt.Errorf("unknown target %q", name)
		}
		return []string{name}, nil
	}
	names := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		names = append(names, t.Name)
	}
	return names, nil
}

func daemonHistory(ctx context.Context, c *client.Client, cfg *config.Config, name string) ([]types.SyncResult, error) {
	names, err := historyTargets(cfg, name)
	if err != nil {
		return nil, err
	}
	var all []types.SyncResult
	for _, n := range names {
		rs, err := c.History(ctx, n, historyLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, rs...)
	}
	return all, nil
}

func storeHistory(cfg *config.Config, name string) ([]types.SyncResult, error) {
	names, err := historyTargets(cfg, name)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var all []types.SyncResult
	for _, n := range names {
		rs, err := st.History(n, historyLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, rs...)
	}
	return all, nil
}

func runHistoryShow(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := manifest.NewJournal(cfg.ManifestDir())
	if err != nil {
		return err
	}
	m, err := j.Get(args[0])
	if errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("no manifest for cycle %s", args[0])
	}
	if err != nil {
		return err
	}
	return renderReport(os.Stdout, output.FromManifest(m, targetRoot(cfg, m.Target)))
}

func runHistoryClean(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if client.IsDaemonRunning(cfg.PIDPath()) {
		return errors.New("daemon is running (stop it with: dpsync daemon stop)")
	}
	names, err := historyTargets(cfg, targetArg(args))
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()
	j, err := manifest.NewJournal(cfg.ManifestDir())
	if err != nil {
		return err
	}

	for _, n := range names {
		results, err := st.PruneHistory(n, historyKeep)
		if err != nil {
			return err
		}
		manifests, err := j.Prune(n, historyKeep)
		if err != nil {
			return err
		}
		printInfo("%s: removed %d results, %d manifests", n, results, manifests)
	}
	return nil
}
