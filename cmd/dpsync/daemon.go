package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladzaharia/dangerprep-sync/pkg/client"
	"github.com/vladzaharia/dangerprep-sync/pkg/daemon"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the dpsyncd daemon",
	Long: `Manage the dpsyncd daemon.

The daemon watches targets, syncs them when they attach and on their
schedule, and serves status to the CLI, the watch dashboard and the HTTP
feed.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dpsyncd daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the dpsyncd daemon",
	Long:  `Stop the dpsyncd daemon gracefully. Running cycles are cancelled.`,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the dpsyncd daemon",
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonRestartCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// daemonPaths resolves the daemon paths, tolerating a missing config.
func daemonPaths() client.DaemonPaths {
	cfg, err := loadConfig()
	if err != nil {
		printVerbose("using default daemon paths: %v", err)
		return client.DaemonPaths{Config: cfgFile}
	}
	return client.PathsFromConfig(cfg)
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	paths := daemonPaths()
	if client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon already running")
		return nil
	}
	printVerbose("starting daemon...")
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	paths := daemonPaths()
	if !client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon not running")
		return nil
	}
	printVerbose("sending shutdown request to %s", paths.Socket)
	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon stopped")
	return nil
}

func runDaemonRestart(_ *cobra.Command, _ []string) error {
	if err := client.RestartDaemon(daemonPaths()); err != nil {
		return err
	}
	printInfo("Daemon restarted")
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	paths := daemonPaths()
	if !client.IsDaemonRunning(paths.PID) {
		fmt.Println(output.MutedStyle.Render("Daemon: not running"))
		if st, err := daemon.ReadStatus(daemon.StatusPath(config.StateDir())); err == nil && st.Status == daemon.StatusError {
			fmt.Printf("%s %s\n", output.LabelStyle.Render("Last error:"), output.ErrorStyle.Render(st.Error))
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		return fmt.Errorf("daemon is running but not answering: %w", err)
	}
	defer c.Close()

	st, err := c.Status(ctx, "")
	if err != nil {
		return err
	}
	d := st.Daemon
	fmt.Printf("%s %s\n", output.LabelStyle.Render("Daemon: "), output.SuccessStyle.Render("running"))
	fmt.Printf("%s %d\n", output.LabelStyle.Render("PID:    "), d.PID)
	fmt.Printf("%s %s\n", output.LabelStyle.Render("Version:"), d.Version)
	fmt.Printf("%s %s\n", output.LabelStyle.Render("Uptime: "), formatDuration(time.Since(d.StartedAt)))
	fmt.Printf("%s %s\n", output.LabelStyle.Render("Socket: "), d.Socket)
	if d.HTTPAddr != "" {
		fmt.Printf("%s http://%s\n", output.LabelStyle.Render("HTTP:   "), d.HTTPAddr)
	}

	ready := 0
	for _, t := range st.Targets {
		if t.Device.State == target.StateReady || t.Device.State == target.StateBusy {
			ready++
		}
	}
	fmt.Printf("%s %d configured, %d attached\n", output.LabelStyle.Render("Targets:"), len(st.Targets), ready)
	return nil
}
