package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	dpsyncv1 "github.com/vladzaharia/dangerprep-sync/pkg/api/dpsync/v1"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/engine"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
)

// ShutdownTimeout bounds the graceful stop of the listeners.
const ShutdownTimeout = 5 * time.Second

// Config holds daemon configuration.
type Config struct {
	SocketPath string
	// HTTPAddr is the status and metrics listener; empty disables it.
	HTTPAddr string
	Version  string
}

// Server is the dpsyncd control plane around an engine.
type Server struct {
	cfg      Config
	engine   *engine.Engine
	grpc     *grpc.Server
	listener net.Listener
	http     *http.Server
	httpLn   net.Listener

	mu     sync.Mutex
	cancel context.CancelFunc
	quit   bool
}

// NewServer binds the control socket and, when configured, the HTTP feed.
func NewServer(cfg Config, e *engine.Engine) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(cfg.SocketPath); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.SocketPath, err)
	}
	_ = os.Chmod(cfg.SocketPath, 0o600)

	s := &Server{
		cfg:      cfg,
		engine:   e,
		grpc:     grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary)),
		listener: listener,
	}

	if cfg.HTTPAddr != "" {
		ln, err := lc.Listen(context.Background(), "tcp", cfg.HTTPAddr)
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("listening on %s: %w", cfg.HTTPAddr, err)
		}
		s.httpLn = ln
		s.http = &http.Server{
			Handler:           NewRouter(e, WithMiddlewares(LoggingMiddleware)),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	svc := NewService(e, dpsyncv1.DaemonInfo{
		Version:  cfg.Version,
		Socket:   cfg.SocketPath,
		HTTPAddr: s.HTTPAddr(),
	}, s.Shutdown)
	dpsyncv1.RegisterSyncServiceServer(s.grpc, svc)
	return s, nil
}

// HTTPAddr returns the bound HTTP address, empty when the feed is disabled.
func (s *Server) HTTPAddr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logging.Get("daemon").Debug("rpc",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}

// Serve runs the engine and both listeners until ctx is done or Shutdown
// is called. Blocks until everything stopped.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	quit := s.quit
	s.mu.Unlock()
	defer cancel()
	if quit {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error {
		if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	if s.http != nil {
		g.Go(func() error {
			if err := s.http.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.stopListeners()
		return nil
	})
	return g.Wait()
}

func (s *Server) stopListeners() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if s.http != nil {
		_ = s.http.Shutdown(ctx)
	}
	// Watch streams end when their subscription closes.
	s.engine.Events().Close()
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

// Shutdown makes Serve return.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quit = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Close stops the listeners and removes the socket. Call it after Serve
// returned, or instead of Serve.
func (s *Server) Close() error {
	s.Shutdown()
	s.grpc.Stop()
	if s.httpLn != nil {
		_ = s.httpLn.Close()
	}
	if err := os.RemoveAll(s.cfg.SocketPath); err != nil {
		return err
	}
	return nil
}
