package dpsyncv1

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// TargetRequest addresses one target, or every target when Target is empty.
type TargetRequest struct {
	Target string `json:"target,omitempty"`
}

// EnableRequest enables or disables automatic cycles.
type EnableRequest struct {
	Target  string `json:"target,omitempty"`
	Enabled bool   `json:"enabled"`
}

// HistoryRequest asks for the newest Limit results of Target.
type HistoryRequest struct {
	Target string `json:"target"`
	Limit  int    `json:"limit,omitempty"`
}

// WatchRequest subscribes to events of Target, every target when empty,
// restricted to Kinds when set.
type WatchRequest struct {
	Target string        `json:"target,omitempty"`
	Kinds  []events.Kind `json:"kinds,omitempty"`
}

// DaemonInfo describes the running daemon.
type DaemonInfo struct {
	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Socket    string    `json:"socket"`
	HTTPAddr  string    `json:"http_addr,omitempty"`
}

// StatusReply is the answer to Status.
type StatusReply struct {
	Daemon  DaemonInfo            `json:"daemon"`
	Targets []orchestrator.Status `json:"targets"`
}

// ControlReply lists the targets a control call acted on.
type ControlReply struct {
	Targets []string `json:"targets"`
	Message string   `json:"message,omitempty"`
}

// HistoryReply is the answer to History, newest first.
type HistoryReply struct {
	Results []types.SyncResult `json:"results"`
}

// ManifestReply carries the last plan of a target.
type ManifestReply struct {
	Manifest *manifest.Manifest `json:"manifest"`
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding %T: not an object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// Decode fills v from s. A nil Struct leaves v untouched.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}

// EncodeEvent converts e to the Struct streamed by Watch.
func EncodeEvent(e events.Event, at time.Time) (*structpb.Struct, error) {
	rec, err := events.Encode(e, at)
	if err != nil {
		return nil, err
	}
	return Encode(rec)
}
