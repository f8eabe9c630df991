// Command dpsyncd is the dangerprep sync daemon. It watches the configured
// targets, runs sync cycles when they attach and on schedule, and serves
// the control socket and HTTP feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vladzaharia/dangerprep-sync/pkg/daemon"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/engine"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
)

// Build-time variables set by go build -ldflags.
var version = "dev"

var (
	cfgFile  string
	httpAddr string
	console  string
)

var rootCmd = &cobra.Command{
	Use:           "dpsyncd",
	Short:         "dangerprep sync daemon",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/dpsync/config.yaml)")
	rootCmd.Flags().StringVar(&httpAddr, "http", "", "override the HTTP feed address, \"off\" disables it")
	rootCmd.Flags().StringVar(&console, "console", "", "also log to stderr at this level")
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dpsyncd:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if console != "" {
		cfg.Logging.Console = console
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.Daemon.HTTPAddr = ""
	default:
		cfg.Daemon.HTTPAddr = httpAddr
	}

	if err := config.EnsureDirs(); err != nil {
		return err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Close()
	log := logging.Get("daemon")

	statusPath := daemon.StatusPath(config.StateDir())
	fail := func(err error) error {
		log.Error("startup failed", "error", err)
		_ = daemon.WriteStatusError(statusPath, err)
		return err
	}

	pidPath, socketPath := cfg.PIDPath(), cfg.SocketPath()
	if daemon.IsDaemonRunning(pidPath) {
		return fail(daemon.ErrDaemonAlreadyRunning)
	}
	if err := daemon.RecoverFromStaleDaemon(pidPath, socketPath, cfg.DBPath()); err != nil {
		log.Warn("stale daemon recovery incomplete", "error", err)
	}

	lock, err := daemon.AcquirePIDLock(pidPath)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("failed to release PID lock", "error", err)
		}
		_ = daemon.RemoveStatus(statusPath)
	}()

	e, err := engine.New(cfg)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Warn("failed to close engine", "error", err)
		}
	}()

	srv, err := daemon.NewServer(daemon.Config{
		SocketPath: socketPath,
		HTTPAddr:   cfg.Daemon.HTTPAddr,
		Version:    version,
	}, e)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = srv.Close() }()

	if err := daemon.WriteStatusReady(statusPath, socketPath, srv.HTTPAddr(), version); err != nil {
		log.Warn("failed to write status file", "error", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("dpsyncd started",
		"version", version,
		"socket", socketPath,
		"http", srv.HTTPAddr(),
		"targets", len(e.Targets()),
		"config", cfg.File)

	err = srv.Serve(ctx)
	log.Info("dpsyncd stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
