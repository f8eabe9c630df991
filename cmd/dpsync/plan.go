package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladzaharia/dangerprep-sync/pkg/client"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/engine"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
)

var planCmd = &cobra.Command{
	Use:   "plan [target]",
	Short: "Show what a sync would do",
	Long: `Plan a sync of one target, or of every attached target, without
changing anything. Each manifest lists the items that would be fetched,
kept and evicted, with the reason for every decision.

Examples:
  dpsync plan usb               # Table of fetches and evictions
  dpsync plan usb -a            # Include kept and rejected items
  dpsync plan -o json           # Every target as JSON
  dpsync plan usb -o script     # Shell script performing the plan`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	addOutputFlags(planCmd)
	rootCmd.AddCommand(planCmd)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openEngine builds an in-process engine and probes the targets that are
// present.
func openEngine(ctx context.Context, cfg *config.Config, emit events.Emitter) (*engine.Engine, error) {
	var opts []engine.Option
	if emit != nil {
		opts = append(opts, engine.WithEmitter(emit))
	}
	e, err := engine.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	e.Attach(ctx)
	return e, nil
}

func runPlan(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := newFormatter(outputFormat, templateStr, showAll); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if c := connectDaemon(ctx, cfg); c != nil {
		defer c.Close()
		printVerbose("planning through the daemon")
		return planWithDaemon(ctx, c, cfg, targetArg(args))
	}

	e, err := openEngine(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ts, err := e.Select(targetArg(args))
	if err != nil {
		return err
	}
	var errs []error
	for _, t := range ts {
		m, err := t.Orchestrator.Plan(ctx)
		if err != nil {
			errs = append(errs, planError(t.Config.Name, err, len(ts) > 1))
			continue
		}
		if err := renderReport(os.Stdout, output.FromManifest(m, t.Config.Path)); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func planWithDaemon(ctx context.Context, c *client.Client, cfg *config.Config, name string) error {
	names := []string{name}
	if name == "" {
		st, err := c.Status(ctx, "")
		if err != nil {
			return err
		}
		names = names[:0]
		for _, t := range st.Targets {
			names = append(names, t.Target)
		}
	}

	var errs []error
	for _, n := range names {
		m, err := c.Plan(ctx, n)
		if err != nil {
			errs = append(errs, planError(n, err, len(names) > 1))
			continue
		}
		if err := renderReport(os.Stdout, output.FromManifest(m, targetRoot(cfg, n))); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// planError reports a target that cannot be planned. Absent targets are
// only mentioned when several were planned.
func planError(name string, err error, many bool) error {
	notReady := errors.Is(err, target.ErrNotReady) || status.Code(err) == codes.FailedPrecondition
	if many && notReady {
		printInfo("%s: not attached, skipped", name)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func targetRoot(cfg *config.Config, name string) string {
	if t, ok := cfg.Target(name); ok {
		return t.Path
	}
	return ""
}
