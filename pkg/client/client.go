// Package client provides a client for connecting to the dpsyncd daemon.
// It wraps the gRPC client with typed methods and manages the daemon
// process.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	dpsyncv1 "github.com/vladzaharia/dangerprep-sync/pkg/api/dpsync/v1"
	"github.com/vladzaharia/dangerprep-sync/pkg/daemon"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// BinaryName is the daemon executable name.
const BinaryName = "dpsyncd"

// Client connects to the dpsyncd daemon via gRPC.
type Client struct {
	conn   *grpc.ClientConn
	client dpsyncv1.SyncServiceClient
}

// DaemonPaths configures paths for daemon operations.
// Empty fields use defaults.
type DaemonPaths struct {
	Binary string // Path to dpsyncd (auto-discovered if empty)
	Config string // Config file passed to dpsyncd
	Socket string // Unix socket path
	PID    string // PID file path
	Status string // Startup status file
}

// PathsFromConfig returns the daemon paths configured in cfg.
func PathsFromConfig(cfg *config.Config) DaemonPaths {
	return DaemonPaths{
		Binary: cfg.Daemon.BinaryPath,
		Config: cfg.File,
		Socket: cfg.SocketPath(),
		PID:    cfg.PIDPath(),
	}
}

// withDefaults returns a copy with empty fields filled with defaults.
func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.Socket == "" {
		p.Socket = config.DefaultSocketPath()
	}
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	if p.Status == "" {
		p.Status = daemon.StatusPath(config.StateDir())
	}
	return p
}

// Connect establishes a connection to the dpsyncd daemon.
// Uses a default timeout of 5 seconds.
func Connect(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, socketPath)
}

// ConnectWithContext establishes a connection to the dpsyncd daemon with a custom context.
func ConnectWithContext(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon socket not found at %s", socketPath)
	}

	//nolint:staticcheck // grpc.DialContext is deprecated but NewClient doesn't support blocking
	conn, err := grpc.DialContext(
		ctx,
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	return &Client{
		conn:   conn,
		client: dpsyncv1.NewSyncServiceClient(conn),
	}, nil
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

type unaryRPC func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

// call encodes req, invokes rpc and decodes the reply into R.
func call[R any](ctx context.Context, name string, rpc unaryRPC, req any) (R, error) {
	var reply R
	in, err := dpsyncv1.Encode(req)
	if err != nil {
		return reply, err
	}
	out, err := rpc(ctx, in)
	if err != nil {
		return reply, fmt.Errorf("%s RPC failed: %w", name, err)
	}
	if err := dpsyncv1.Decode(out, &reply); err != nil {
		return reply, fmt.Errorf("%s reply: %w", name, err)
	}
	return reply, nil
}

// Status returns the daemon and the status of target, or of every target
// when target is empty.
func (c *Client) Status(ctx context.Context, target string) (*dpsyncv1.StatusReply, error) {
	r, err := call[dpsyncv1.StatusReply](ctx, "Status", c.client.Status, dpsyncv1.TargetRequest{Target: target})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Start resumes automatic cycles and returns the targets started.
func (c *Client) Start(ctx context.Context, target string) ([]string, error) {
	r, err := call[dpsyncv1.ControlReply](ctx, "Start", c.client.Start, dpsyncv1.TargetRequest{Target: target})
	return r.Targets, err
}

// Stop halts automatic cycles, cancelling running ones, and returns the
// targets stopped.
func (c *Client) Stop(ctx context.Context, target string) ([]string, error) {
	r, err := call[dpsyncv1.ControlReply](ctx, "Stop", c.client.Stop, dpsyncv1.TargetRequest{Target: target})
	return r.Targets, err
}

// Trigger queues a manual cycle and returns the targets that accepted it.
// A target with a cycle already pending is left out.
func (c *Client) Trigger(ctx context.Context, target string) ([]string, error) {
	r, err := call[dpsyncv1.ControlReply](ctx, "Trigger", c.client.Trigger, dpsyncv1.TargetRequest{Target: target})
	return r.Targets, err
}

// SetEnabled enables or disables automatic cycles.
func (c *Client) SetEnabled(ctx context.Context, target string, enabled bool) ([]string, error) {
	r, err := call[dpsyncv1.ControlReply](ctx, "SetTargetEnabled", c.client.SetTargetEnabled,
		dpsyncv1.EnableRequest{Target: target, Enabled: enabled})
	return r.Targets, err
}

// History returns up to limit results of target, newest first.
func (c *Client) History(ctx context.Context, target string, limit int) ([]types.SyncResult, error) {
	r, err := call[dpsyncv1.HistoryReply](ctx, "History", c.client.History,
		dpsyncv1.HistoryRequest{Target: target, Limit: limit})
	return r.Results, err
}

// Manifest returns the last manifest the daemon executed for target.
func (c *Client) Manifest(ctx context.Context, target string) (*manifest.Manifest, error) {
	r, err := call[dpsyncv1.ManifestReply](ctx, "Manifest", c.client.Manifest, dpsyncv1.TargetRequest{Target: target})
	return r.Manifest, err
}

// Plan asks the daemon for a dry-run manifest of target.
func (c *Client) Plan(ctx context.Context, target string) (*manifest.Manifest, error) {
	r, err := call[dpsyncv1.ManifestReply](ctx, "Plan", c.client.Plan, dpsyncv1.TargetRequest{Target: target})
	return r.Manifest, err
}

// Shutdown requests the daemon to shut down gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := call[dpsyncv1.ControlReply](ctx, "Shutdown", c.client.Shutdown, struct{}{})
	return err
}

// Watch subscribes to daemon events of target, every target when empty,
// restricted to kinds when given. The channel is closed when the stream
// ends or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, target string, kinds ...events.Kind) (<-chan events.Record, error) {
	in, err := dpsyncv1.Encode(dpsyncv1.WatchRequest{Target: target, Kinds: kinds})
	if err != nil {
		return nil, err
	}
	stream, err := c.client.Watch(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("Watch RPC failed: %w", err)
	}

	out := make(chan events.Record, 100)
	go func() {
		defer close(out)
		for {
			msg, err := stream.Recv()
			if err != nil {
				return // Stream closed or error
			}
			var rec events.Record
			if err := dpsyncv1.Decode(msg, &rec); err != nil {
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// EnsureDaemon ensures the daemon is running, starting it if necessary.
func EnsureDaemon(paths DaemonPaths) error {
	return StartDaemon(paths)
}

// StartDaemon starts dpsyncd in the background and waits until it reports
// ready. Idempotent: returns nil if the daemon is already running.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", BinaryName, err)
	}

	_ = daemon.RemoveStatus(paths.Status)

	var args []string
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}

	// exec.Command, not CommandContext: the daemon outlives the caller.
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is resolved above
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)

		if st, err := daemon.ReadStatus(paths.Status); err == nil {
			switch st.Status {
			case daemon.StatusReady:
				return nil
			case daemon.StatusError:
				return fmt.Errorf("daemon failed to start: %s", st.Error)
			}
		}
		if _, err := os.Stat(paths.Socket); err == nil && daemon.IsDaemonRunning(paths.PID) {
			return nil
		}
	}

	return errors.New("daemon did not become ready within timeout")
}

// StopDaemon stops the daemon gracefully via RPC.
// Idempotent: returns nil if the daemon is not running.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if !daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer client.Close()

	if err := client.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown daemon: %w", err)
	}

	// Cycles get up to the engine stop timeout to wind down.
	for range 160 {
		time.Sleep(250 * time.Millisecond)
		if !daemon.IsDaemonRunning(paths.PID) {
			return nil
		}
	}

	return errors.New("daemon did not stop within timeout")
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// IsDaemonRunning reports whether the process in the PID file is alive.
func IsDaemonRunning(pidPath string) bool {
	return daemon.IsDaemonRunning(pidPath)
}

// resolveBinary finds the dpsyncd binary path.
// Priority: configured path > same directory as executable > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		p, err := config.ExpandPath(configured)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", p)
		}
		return p, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), BinaryName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	return "", errors.New(BinaryName + " not found")
}
