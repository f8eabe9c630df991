package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/vladzaharia/dangerprep-sync/cmd/dpsync/tui"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch [target]",
	Short: "Live dashboard of targets and daemon events",
	Long: `Open a live dashboard showing every target, running cycles and the
daemon event feed. Keys: arrows select a target, t triggers a cycle, e
toggles automatic cycles, 1-4 filter the feed, q quits.

With --events the dashboard is replaced by a stream of raw events, one JSON
object per line, suitable for scripts.

Examples:
  dpsync watch
  dpsync watch usb
  dpsync watch --events --kinds 'cycle_*,item_failed'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchRaw     bool
	watchKinds   string
	watchRefresh time.Duration
)

func init() {
	watchCmd.Flags().BoolVar(&watchRaw, "events", false, "print raw events as JSON lines")
	watchCmd.Flags().StringVar(&watchKinds, "kinds", "", "comma-separated event kinds for --events, with prefix* wildcards")
	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", 2*time.Second, "status refresh period")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	c, err := requireDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	name := targetArg(args)
	if watchRaw {
		kinds, err := parseKinds(watchKinds)
		if err != nil {
			return err
		}
		return streamEvents(ctx, c, name, kinds)
	}

	p := tea.NewProgram(tui.NewModel(c, tui.Options{Target: name, Refresh: watchRefresh}), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

type watcher interface {
	Watch(ctx context.Context, target string, kinds ...events.Kind) (<-chan events.Record, error)
}

// streamEvents prints events as JSON lines until ctx ends or the daemon
// closes the stream.
func streamEvents(ctx context.Context, w watcher, name string, kinds []events.Kind) error {
	recs, err := w.Watch(ctx, name, kinds...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	if ctx.Err() == nil {
		return errors.New("event stream closed by daemon")
	}
	return nil
}
