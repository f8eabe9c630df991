package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	dpsyncv1 "github.com/vladzaharia/dangerprep-sync/pkg/api/dpsync/v1"
	"github.com/vladzaharia/dangerprep-sync/pkg/client"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status [target]",
	Short: "Show target and cycle status",
	Long: `Show the state of every target, or of one. With the daemon running this
includes device state, free space, progress of running cycles, the last
result and the next scheduled run. Without it only the configured targets
are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var startCmd = &cobra.Command{
	Use:   "start [target]",
	Short: "Resume automatic cycles",
	Args:  cobra.MaximumNArgs(1),
	RunE: controlRunE("started", func(ctx context.Context, c *client.Client, t string) ([]string, error) {
		return c.Start(ctx, t)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop [target]",
	Short: "Halt automatic cycles, cancelling running ones",
	Args:  cobra.MaximumNArgs(1),
	RunE: controlRunE("stopped", func(ctx context.Context, c *client.Client, t string) ([]string, error) {
		return c.Stop(ctx, t)
	}),
}

var triggerCmd = &cobra.Command{
	Use:   "trigger [target]",
	Short: "Queue a cycle on the daemon without waiting for it",
	Args:  cobra.MaximumNArgs(1),
	RunE: controlRunE("triggered", func(ctx context.Context, c *client.Client, t string) ([]string, error) {
		return c.Trigger(ctx, t)
	}),
}

var enableCmd = &cobra.Command{
	Use:   "enable [target]",
	Short: "Enable scheduled and attach-triggered cycles",
	Args:  cobra.MaximumNArgs(1),
	RunE: controlRunE("enabled", func(ctx context.Context, c *client.Client, t string) ([]string, error) {
		return c.SetEnabled(ctx, t, true)
	}),
}

var disableCmd = &cobra.Command{
	Use:   "disable [target]",
	Short: "Disable scheduled and attach-triggered cycles",
	Args:  cobra.MaximumNArgs(1),
	RunE: controlRunE("disabled", func(ctx context.Context, c *client.Client, t string) ([]string, error) {
		return c.SetEnabled(ctx, t, false)
	}),
}

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "output", "o", "text", "output format: text, json")
	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, triggerCmd, enableCmd, disableCmd)
}

type controlFunc func(ctx context.Context, c *client.Client, target string) ([]string, error)

// controlRunE runs fn against the daemon and reports the affected targets.
func controlRunE(verb string, fn controlFunc) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, err := requireDaemon(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		names, err := fn(ctx, c, targetArg(args))
		if err != nil {
			return err
		}
		if len(names) == 0 {
			printInfo("no targets %s", verb)
			return nil
		}
		printInfo("%s %s", output.SuccessStyle.Render(verb), strings.Join(names, ", "))
		return nil
	}
}

func runStatus(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := targetArg(args)
	c := connectDaemon(ctx, cfg)
	if c == nil {
		return renderConfiguredTargets(os.Stdout, cfg, name)
	}
	defer c.Close()

	st, err := c.Status(ctx, name)
	if err != nil {
		return err
	}
	if statusFormat == "json" {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	renderStatus(os.Stdout, st, time.Now())
	return nil
}

// renderConfiguredTargets lists targets from the configuration when no
// daemon is available.
func renderConfiguredTargets(w io.Writer, cfg *config.Config, name string) error {
	targets := cfg.Targets
	if name != "" {
		tc, ok := cfg.Target(name)
		if !ok {
			return fmt.Errorf("unknown target %q", name)
		}
		targets = []config.TargetConfig{tc}
	}

	_, _ = fmt.Fprintln(w, output.WarningStyle.Render("Daemon not running")+
		output.MutedStyle.Render(" (start with: dpsync daemon start)"))
	_, _ = fmt.Fprintln(w)
	for _, tc := range targets {
		enabled := output.SuccessStyle.Render("enabled")
		if !tc.IsEnabled() {
			enabled = output.MutedStyle.Render("disabled")
		}
		_, _ = fmt.Fprintf(w, "%s  %s  %s\n", output.TitleStyle.Render(tc.Name), output.PathStyle.Render(tc.Path), enabled)
		for _, ct := range cfg.ContentTypesFor(tc.Name) {
			_, _ = fmt.Fprintf(w, "  %s %s <- %s (%s)\n", output.LabelStyle.Render(ct.Name),
				ct.LocalPath, ct.Source, ct.MaxSize)
		}
	}
	return nil
}

func renderStatus(w io.Writer, st *dpsyncv1.StatusReply, now time.Time) {
	d := st.Daemon
	_, _ = fmt.Fprintf(w, "%s %s  %s %d  %s %s\n",
		output.LabelStyle.Render("Daemon"), output.SuccessStyle.Render("running"),
		output.LabelStyle.Render("PID"), d.PID,
		output.LabelStyle.Render("Uptime"), formatDuration(now.Sub(d.StartedAt)))
	if d.HTTPAddr != "" {
		_, _ = fmt.Fprintf(w, "%s http://%s\n", output.LabelStyle.Render("Feed"), d.HTTPAddr)
	}

	for _, s := range st.Targets {
		_, _ = fmt.Fprintln(w)
		renderTargetStatus(w, s, now)
	}
}

func renderTargetStatus(w io.Writer, s orchestrator.Status, now time.Time) {
	enabled := ""
	if !s.Enabled {
		enabled = output.MutedStyle.Render(" (disabled)")
	}
	_, _ = fmt.Fprintf(w, "%s  %s  %s%s\n",
		output.TitleStyle.Render(s.Target), deviceStateStyle(s.Device.State), cycleStateStyle(s.State), enabled)

	dev := s.Device
	_, _ = fmt.Fprintf(w, "  %s %s\n", output.LabelStyle.Render("Path:"), output.PathStyle.Render(dev.Path))
	if dev.Capacity > 0 {
		_, _ = fmt.Fprintf(w, "  %s %s free of %s", output.LabelStyle.Render("Space:"),
			output.SizeStyle.Render(types.FormatSize(dev.Free)), types.FormatSize(dev.Capacity))
		if dev.FSType != "" {
			_, _ = fmt.Fprintf(w, " (%s)", dev.FSType)
		}
		_, _ = fmt.Fprintln(w)
	}
	if dev.Reason != "" {
		_, _ = fmt.Fprintf(w, "  %s %s\n", output.LabelStyle.Render("Reason:"), output.ErrorStyle.Render(dev.Reason))
	}

	if s.Running && s.CycleID != "" {
		p := s.Progress
		_, _ = fmt.Fprintf(w, "  %s %s  %d/%d items  %s/%s\n", output.LabelStyle.Render("Cycle:"), s.CycleID,
			p.Done, p.Total, types.FormatSize(p.Bytes), types.FormatSize(p.BytesTotal))
	}
	if s.LastResult != nil {
		_, _ = fmt.Fprintf(w, "  %s %s\n", output.LabelStyle.Render("Last:"), formatResult(*s.LastResult))
	}
	if s.LastError != "" {
		_, _ = fmt.Fprintf(w, "  %s %s\n", output.LabelStyle.Render("Error:"), output.ErrorStyle.Render(s.LastError))
	}
	if !s.NextRun.IsZero() {
		next := humanize.RelTime(s.NextRun, now, "ago", "from now")
		_, _ = fmt.Fprintf(w, "  %s %s\n", output.LabelStyle.Render("Next:"), next)
	}
	for _, b := range s.Breakers {
		if b.State == retry.StateClosed {
			continue
		}
		_, _ = fmt.Fprintf(w, "  %s %s %s (%d failures)\n", output.LabelStyle.Render("Breaker:"),
			b.Name, output.WarningStyle.Render(string(b.State)), b.Failures)
	}
}

func deviceStateStyle(s target.State) string {
	switch s {
	case target.StateReady:
		return output.SuccessStyle.Render(string(s))
	case target.StateBusy, target.StateAttaching, target.StateDetaching:
		return output.WarningStyle.Render(string(s))
	case target.StateFailed:
		return output.ErrorStyle.Render(string(s))
	default:
		return output.MutedStyle.Render(string(s))
	}
}

func cycleStateStyle(s orchestrator.State) string {
	switch s {
	case orchestrator.StateIdle:
		return output.MutedStyle.Render(string(s))
	case orchestrator.StateError:
		return output.ErrorStyle.Render(string(s))
	default:
		return output.ValueStyle.Render(string(s))
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
