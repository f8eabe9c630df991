package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladzaharia/dangerprep-sync/pkg/client"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync [target]",
	Short: "Run a sync cycle now",
	Long: `Run a sync cycle on one target, or on every attached target, and wait
for it to finish. Through the daemon the cycle is queued like a manual
trigger; without one it runs in this process.

Examples:
  dpsync sync usb               # Sync one target
  dpsync sync                   # Sync every attached target
  dpsync sync -o json           # Print the results as JSON`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var (
	syncFormat  string
	syncTimeout time.Duration
)

func init() {
	syncCmd.Flags().StringVarP(&syncFormat, "output", "o", "text", "result format: text, json, yaml")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	rootCmd.AddCommand(syncCmd)
}

// errCyclesFailed is returned when any cycle did not complete.
var errCyclesFailed = errors.New("some cycles did not complete")

func runSync(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if syncTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, syncTimeout)
		defer cancel()
	}

	var results []types.SyncResult
	if c := connectDaemon(ctx, cfg); c != nil {
		defer c.Close()
		results, err = syncWithDaemon(ctx, c, targetArg(args))
	} else {
		results, err = syncInProcess(ctx, cfg, targetArg(args))
	}
	if err != nil {
		return err
	}

	if err := renderResults(os.Stdout, syncFormat, results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Outcome != types.OutcomeCompleted {
			return errCyclesFailed
		}
	}
	return nil
}

// printProgress is an emitter writing item events to stderr.
func printProgress() events.Emitter {
	if getQuiet() {
		return nil
	}
	return events.EmitterFunc(func(e events.Event) {
		rec, err := events.Encode(e, time.Now())
		if err != nil {
			return
		}
		if line, ok := progressLine(rec); ok {
			fmt.Fprintln(os.Stderr, line)
		}
	})
}

func syncInProcess(ctx context.Context, cfg *config.Config, name string) ([]types.SyncResult, error) {
	e, err := openEngine(ctx, cfg, printProgress())
	if err != nil {
		return nil, err
	}
	defer e.Close()

	ts, err := e.Select(name)
	if err != nil {
		return nil, err
	}
	var results []types.SyncResult
	for _, t := range ts {
		if st := t.Manager.State(); st != target.StateReady {
			if name != "" {
				return results, fmt.Errorf("%s: %w: %s", t.Config.Name, target.ErrNotReady, st)
			}
			printInfo("%s: not attached, skipped", t.Config.Name)
			continue
		}
		results = append(results, t.Orchestrator.RunCycle(ctx, orchestrator.ReasonManual))
	}
	return results, nil
}

// syncWithDaemon triggers the selected targets and follows their cycles
// over the event stream. Only cycles that start after the subscription
// count, so a cycle already running when the trigger is queued is not
// mistaken for the requested one.
func syncWithDaemon(ctx context.Context, c *client.Client, name string) ([]types.SyncResult, error) {
	st, err := c.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	pending := make(map[string]string) // target -> cycle id, empty until started
	for _, t := range st.Targets {
		if t.Device.State != target.StateReady && t.Device.State != target.StateBusy {
			if name != "" {
				return nil, fmt.Errorf("%s: %w: %s", t.Target, target.ErrNotReady, t.Device.State)
			}
			printInfo("%s: not attached, skipped", t.Target)
			continue
		}
		pending[t.Target] = ""
	}
	if len(pending) == 0 {
		return nil, nil
	}

	wctx, stop := context.WithCancel(ctx)
	defer stop()
	recs, err := c.Watch(wctx, name,
		events.KindCycleStarted, events.KindCycleCompleted, events.KindCycleFailed,
		events.KindItemCompleted, events.KindItemFailed)
	if err != nil {
		return nil, err
	}
	for n := range pending {
		if _, err := c.Trigger(ctx, n); err != nil {
			return nil, err
		}
	}

	var done []string
	for len(done) < len(pending) {
		var rec events.Record
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r, ok := <-recs:
			if !ok {
				return nil, errors.New("daemon closed the event stream")
			}
			rec = r
		}
		id, tracked := pending[rec.Target]
		if !tracked || slices.Contains(done, rec.Target) {
			continue
		}

		var cycle struct {
			CycleID string `json:"cycle_id"`
		}
		_ = json.Unmarshal(rec.Data, &cycle)
		switch {
		case rec.Kind == events.KindCycleStarted && id == "":
			pending[rec.Target] = cycle.CycleID
		case cycle.CycleID != id || id == "":
			continue
		case rec.Kind == events.KindCycleCompleted || rec.Kind == events.KindCycleFailed:
			done = append(done, rec.Target)
		}
		if !getQuiet() {
			if line, ok := progressLine(rec); ok {
				fmt.Fprintln(os.Stderr, line)
			}
		}
	}

	slices.Sort(done)
	results := make([]types.SyncResult, 0, len(done))
	for _, n := range done {
		h, err := c.History(ctx, n, 1)
		if err != nil {
			return results, err
		}
		if len(h) > 0 {
			results = append(results, h[0])
		}
	}
	return results, nil
}
