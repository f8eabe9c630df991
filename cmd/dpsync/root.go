package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladzaharia/dangerprep-sync/pkg/client"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "dpsync",
		Short: "Sync curated content onto removable drives",
		Long: `dpsync keeps offline drives stocked with content from your library.

Each target drive gets a size budget per content type. dpsync picks what
fits, fetches it from the configured sources, and evicts what it placed
there earlier once it no longer makes the cut.

Commands talk to the dpsyncd daemon when it runs and fall back to an
in-process engine otherwise.

Examples:
  dpsync plan usb              # Show what a sync of usb would do
  dpsync sync                  # Sync every attached target now
  dpsync find "blade runner"   # Search the source catalogs
  dpsync status                # Daemon and target status
  dpsync watch                 # Live dashboard
  dpsync config show           # Show configuration`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initLogging,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/dpsync/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().Bool("no-daemon", false, "bypass the daemon, run in-process")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("no_daemon", rootCmd.PersistentFlags().Lookup("no-daemon"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var loaded *config.Config

// loadConfig reads the configuration once per invocation.
func loadConfig() (*config.Config, error) {
	if loaded != nil {
		return loaded, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	loaded = cfg
	return cfg, nil
}

// initLogging sends log records to the log file, and to stderr in verbose mode.
func initLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// Commands such as config init must work without a valid file.
		printVerbose("config not loaded: %v", err)
		return nil
	}
	lc := cfg.Logging
	if getVerbose() {
		lc.Console = "debug"
	}
	if err := logging.Init(lc); err != nil {
		printVerbose("logging disabled: %v", err)
	}
	return nil
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...any) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...any) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// connectDaemon returns a client for the running daemon, starting it first
// when daemon.auto_start is set. It returns nil when the daemon is not
// wanted or not available, so callers fall back to an in-process engine.
func connectDaemon(ctx context.Context, cfg *config.Config) *client.Client {
	if viper.GetBool("no_daemon") {
		return nil
	}
	paths := client.PathsFromConfig(cfg)
	if !client.IsDaemonRunning(paths.PID) {
		if !cfg.Daemon.AutoStart {
			printVerbose("daemon not running")
			return nil
		}
		printVerbose("starting daemon...")
		if err := client.EnsureDaemon(paths); err != nil {
			printVerbose("daemon start failed: %v", err)
			return nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c, err := client.ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		printVerbose("failed to connect to daemon: %v", err)
		return nil
	}
	return c
}

// requireDaemon is connectDaemon for commands that only make sense against
// a running daemon.
func requireDaemon(ctx context.Context, cfg *config.Config) (*client.Client, error) {
	c := connectDaemon(ctx, cfg)
	if c == nil {
		return nil, errors.New("daemon is not running (start with: dpsync daemon start)")
	}
	return c, nil
}
