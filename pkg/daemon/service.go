package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	dpsyncv1 "github.com/vladzaharia/dangerprep-sync/pkg/api/dpsync/v1"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/engine"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
)

// DefaultHistoryLimit is used when a History request names no limit.
const DefaultHistoryLimit = 20

// Service implements the SyncService gRPC service over an engine.
type Service struct {
	engine   *engine.Engine
	info     dpsyncv1.DaemonInfo
	shutdown func()
}

// NewService returns the service for e. shutdown is called by the Shutdown
// RPC and may be nil.
func NewService(e *engine.Engine, info dpsyncv1.DaemonInfo, shutdown func()) *Service {
	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = e.StartedAt()
	}
	return &Service{engine: e, info: info, shutdown: shutdown}
}

var _ dpsyncv1.SyncServiceServer = (*Service)(nil)

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, engine.ErrUnknownTarget),
		errors.Is(err, orchestrator.ErrNoManifest),
		errors.Is(err, manifest.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, target.ErrNotReady):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, target.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	var re *retry.Error
	if errors.As(err, &re) && re.Category == retry.CategoryConfiguration {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func decode[T any](in *structpb.Struct) (T, error) {
	var req T
	if err := dpsyncv1.Decode(in, &req); err != nil {
		return req, status.Error(codes.InvalidArgument, err.Error())
	}
	return req, nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := dpsyncv1.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func control(names []string, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	if names == nil {
		names = []string{}
	}
	return encode(dpsyncv1.ControlReply{Targets: names})
}

// Status returns the daemon info and the status of one or every target.
func (s *Service) Status(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.TargetRequest](in)
	if err != nil {
		return nil, err
	}
	st, err := s.engine.Statuses(req.Target)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dpsyncv1.StatusReply{Daemon: s.info, Targets: st})
}

// Start resumes scheduling on the requested targets.
func (s *Service) Start(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.TargetRequest](in)
	if err != nil {
		return nil, err
	}
	return control(s.engine.Start(req.Target))
}

// Stop halts scheduling on the requested targets, aborting running cycles.
func (s *Service) Stop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.TargetRequest](in)
	if err != nil {
		return nil, err
	}
	return control(s.engine.Stop(ctx, req.Target))
}

// Trigger queues a manual cycle.
func (s *Service) Trigger(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.TargetRequest](in)
	if err != nil {
		return nil, err
	}
	return control(s.engine.Trigger(req.Target))
}

// SetTargetEnabled toggles automatic cycles.
func (s *Service) SetTargetEnabled(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.EnableRequest](in)
	if err != nil {
		return nil, err
	}
	return control(s.engine.SetEnabled(req.Target, req.Enabled))
}

// History returns stored cycle results, newest first.
func (s *Service) History(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.HistoryRequest](in)
	if err != nil {
		return nil, err
	}
	t, err := s.engine.Target(req.Target)
	if err != nil {
		return nil, toStatus(err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	results, err := t.Orchestrator.History(limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dpsyncv1.HistoryReply{Results: results})
}

// Manifest returns the last manifest planned for a target.
func (s *Service) Manifest(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.TargetRequest](in)
	if err != nil {
		return nil, err
	}
	t, err := s.engine.Target(req.Target)
	if err != nil {
		return nil, toStatus(err)
	}
	m, err := t.Orchestrator.LastManifest()
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dpsyncv1.ManifestReply{Manifest: m})
}

// Plan computes a fresh manifest without touching the target.
func (s *Service) Plan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[dpsyncv1.TargetRequest](in)
	if err != nil {
		return nil, err
	}
	t, err := s.engine.Target(req.Target)
	if err != nil {
		return nil, toStatus(err)
	}
	m, err := t.Orchestrator.Plan(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dpsyncv1.ManifestReply{Manifest: m})
}

// Shutdown asks the daemon to exit after the reply is sent.
func (s *Service) Shutdown(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	logging.Get("daemon").Info("shutdown requested")
	if s.shutdown != nil {
		go func() {
			time.Sleep(50 * time.Millisecond)
			s.shutdown()
		}()
	}
	return encode(dpsyncv1.ControlReply{Targets: s.engine.Names(), Message: "shutting down"})
}

// Watch streams engine events until the client goes away or the daemon
// stops.
func (s *Service) Watch(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	req, err := decode[dpsyncv1.WatchRequest](in)
	if err != nil {
		return err
	}
	if req.Target != "" {
		if _, err := s.engine.Target(req.Target); err != nil {
			return toStatus(err)
		}
	}

	sub := s.engine.Events().Subscribe(req.Target, req.Kinds...)
	if sub == nil {
		return status.Error(codes.Unavailable, "daemon is shutting down")
	}
	defer s.engine.Events().Unsubscribe(sub.ID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			msg, err := dpsyncv1.EncodeEvent(ev, time.Now())
			if err != nil {
				logging.Get("daemon").Warn("dropping unencodable event", "kind", ev.Kind(), "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
