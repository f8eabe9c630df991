// Package events defines the typed notifications emitted by the sync engine
// and a broadcaster that fans them out to subscribers. Delivery to consoles,
// webhooks or dashboards is left to the subscribers.
package events

import (
	"encoding/json"
	"time"
)

// Kind names an event type on the wire.
type Kind string

// Event kinds.
const (
	KindTargetAttached Kind = "target_attached"
	KindTargetDetached Kind = "target_detached"
	KindTargetFailed   Kind = "target_failed"
	KindTargetState    Kind = "target_state"
	KindStateChanged   Kind = "state_changed"
	KindCycleStarted   Kind = "cycle_started"
	KindCycleCompleted Kind = "cycle_completed"
	KindCycleFailed    Kind = "cycle_failed"
	KindItemProgress   Kind = "item_progress"
	KindItemCompleted  Kind = "item_completed"
	KindItemFailed     Kind = "item_failed"
	KindBreakerChanged Kind = "breaker_changed"
)

// Event is implemented by every engine notification.
type Event interface {
	Kind() Kind
	// TargetName is the target the event concerns, empty for global events.
	TargetName() string
}

// Emitter accepts events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }

// Multi returns an emitter that forwards every event to each non-nil emitter in order.
func Multi(emitters ...Emitter) Emitter {
	var out []Emitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return EmitterFunc(func(ev Event) {
		for _, e := range out {
			e.Emit(ev)
		}
	})
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// TargetAttached is emitted when a target passes its readiness probe.
type TargetAttached struct {
	Target   string `json:"target"`
	Path     string `json:"path"`
	Capacity int64  `json:"capacity"`
	Free     int64  `json:"free"`
}

// TargetDetached is emitted when a target goes absent. Abrupt is set when
// it disappeared while a sync held it.
type TargetDetached struct {
	Target string `json:"target"`
	Path   string `json:"path"`
	Abrupt bool   `json:"abrupt"`
}

// TargetFailed is emitted when a detected target fails its readiness probe.
type TargetFailed struct {
	Target string `json:"target"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// TargetStateChanged reports a target lifecycle transition.
type TargetStateChanged struct {
	Target string `json:"target"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// StateChanged reports an orchestrator state transition.
type StateChanged struct {
	Target string `json:"target"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// CycleStarted opens a sync cycle.
type CycleStarted struct {
	Target  string `json:"target"`
	CycleID string `json:"cycle_id"`
	Reason  string `json:"reason"`
}

// CycleCompleted closes a cycle that ran to the end, possibly with item failures.
type CycleCompleted struct {
	Target     string        `json:"target"`
	CycleID    string        `json:"cycle_id"`
	Fetched    int           `json:"fetched"`
	Evicted    int           `json:"evicted"`
	Failed     int           `json:"failed"`
	BytesMoved int64         `json:"bytes_moved"`
	Duration   time.Duration `json:"duration"`
}

// CycleFailed closes a cycle that aborted. Notify is set for failures that
// retrying will not fix, such as configuration errors.
type CycleFailed struct {
	Target   string `json:"target"`
	CycleID  string `json:"cycle_id"`
	Category string `json:"category"`
	Error    string `json:"error"`
	Notify   bool   `json:"notify"`
}

// ItemProgress reports bytes transferred so far for one item.
type ItemProgress struct {
	Target  string `json:"target"`
	CycleID string `json:"cycle_id"`
	ItemID  string `json:"item_id"`
	Bytes   int64  `json:"bytes"`
	Total   int64  `json:"total"`
}

// ItemCompleted reports a verified fetch or a finished eviction.
type ItemCompleted struct {
	Target  string `json:"target"`
	CycleID string `json:"cycle_id"`
	ItemID  string `json:"item_id"`
	Action  string `json:"action"`
	Bytes   int64  `json:"bytes"`
}

// ItemFailed reports a per-item failure. The cycle continues.
type ItemFailed struct {
	Target   string `json:"target"`
	CycleID  string `json:"cycle_id"`
	ItemID   string `json:"item_id"`
	Category string `json:"category"`
	Error    string `json:"error"`
}

// BreakerChanged reports a circuit breaker transition.
type BreakerChanged struct {
	Name string `json:"name"`
	From string `json:"from"`
	To   string `json:"to"`
}

func (TargetAttached) Kind() Kind     { return KindTargetAttached }
func (TargetDetached) Kind() Kind     { return KindTargetDetached }
func (TargetFailed) Kind() Kind       { return KindTargetFailed }
func (TargetStateChanged) Kind() Kind { return KindTargetState }
func (StateChanged) Kind() Kind       { return KindStateChanged }
func (CycleStarted) Kind() Kind       { return KindCycleStarted }
func (CycleCompleted) Kind() Kind     { return KindCycleCompleted }
func (CycleFailed) Kind() Kind        { return KindCycleFailed }
func (ItemProgress) Kind() Kind       { return KindItemProgress }
func (ItemCompleted) Kind() Kind      { return KindItemCompleted }
func (ItemFailed) Kind() Kind         { return KindItemFailed }
func (BreakerChanged) Kind() Kind     { return KindBreakerChanged }

func (e TargetAttached) TargetName() string     { return e.Target }
func (e TargetDetached) TargetName() string     { return e.Target }
func (e TargetFailed) TargetName() string       { return e.Target }
func (e TargetStateChanged) TargetName() string { return e.Target }
func (e StateChanged) TargetName() string       { return e.Target }
func (e CycleStarted) TargetName() string       { return e.Target }
func (e CycleCompleted) TargetName() string     { return e.Target }
func (e CycleFailed) TargetName() string        { return e.Target }
func (e ItemProgress) TargetName() string       { return e.Target }
func (e ItemCompleted) TargetName() string      { return e.Target }
func (e ItemFailed) TargetName() string         { return e.Target }
func (BreakerChanged) TargetName() string       { return "" }

// Record is the serializable envelope of an event.
type Record struct {
	Kind   Kind            `json:"kind"`
	Time   time.Time       `json:"time"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Encode wraps e in a Record stamped with at.
func Encode(e Event, at time.Time) (Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Record{}, err
	}
	return Record{Kind: e.Kind(), Time: at, Target: e.TargetName(), Data: data}, nil
}
