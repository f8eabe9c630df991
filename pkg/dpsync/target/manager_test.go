package target_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if sc, ok := e.(events.TargetStateChanged); ok {
			out = append(out, sc.To)
		}
	}
	return out
}

func (r *recorder) detached() []events.TargetDetached {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.TargetDetached
	for _, e := range r.events {
		if d, ok := e.(events.TargetDetached); ok {
			out = append(out, d)
		}
	}
	return out
}

func okProbe() target.Prober {
	return target.ProberFunc(func(context.Context, string) (target.ProbeResult, error) {
		return target.ProbeResult{Capacity: 100, Free: 50, FSType: "exfat", Writable: true}, nil
	})
}

func readyManager(t *testing.T, policy target.BusyPolicy) (*target.Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := target.NewManager(target.Config{Name: "usb", Path: t.TempDir(), BusyPolicy: policy},
		target.WithProber(okProbe()), target.WithEmitter(rec))
	m.Handle(context.Background(), target.Event{Kind: target.EventAttached})
	require.Equal(t, target.StateReady, m.State())
	return m, rec
}

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	m, rec := readyManager(t, target.BusyReject)
	info := m.Snapshot()
	assert.Equal(t, int64(50), info.Free)
	assert.Equal(t, "exfat", info.FSType)

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, target.StateBusy, m.State())
	assert.Equal(t, "usb", lease.Target())

	lease.Release()
	lease.Release()
	assert.Equal(t, target.StateReady, m.State())
	assert.ErrorIs(t, lease.Context().Err(), context.Canceled)

	m.Handle(context.Background(), target.Event{Kind: target.EventDetached})
	assert.Equal(t, target.StateAbsent, m.State())

	assert.Equal(t, []string{"attaching", "ready", "busy", "ready", "detaching", "absent"}, rec.states())
	require.Len(t, rec.detached(), 1)
	assert.False(t, rec.detached()[0].Abrupt)
}

func TestManagerRejectsSecondHolder(t *testing.T) {
	t.Parallel()

	m, _ := readyManager(t, target.BusyReject)
	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, target.ErrBusy)
}

func TestManagerQueuesSecondHolder(t *testing.T) {
	t.Parallel()

	m, _ := readyManager(t, target.BusyQueue)
	first, err := m.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *target.Lease, 1)
	go func() {
		l, err := m.Acquire(context.Background())
		if err == nil {
			acquired <- l
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder must wait while the target is busy")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case second := <-acquired:
		assert.Equal(t, target.StateBusy, m.State())
		second.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("queued holder never acquired the target")
	}
}

func TestManagerQueuedAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	m, _ := readyManager(t, target.BusyQueue)
	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerAbruptRemovalCancelsLease(t *testing.T) {
	t.Parallel()

	m, rec := readyManager(t, target.BusyQueue)
	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)

	m.Handle(context.Background(), target.Event{Kind: target.EventDetached})

	// Cancellation is visible as soon as Handle returns.
	select {
	case <-lease.Context().Done():
	default:
		t.Fatal("lease context not cancelled synchronously")
	}
	assert.ErrorIs(t, lease.Err(), target.ErrRemoved)
	assert.Equal(t, target.StateAbsent, m.State())

	lease.Release()
	assert.Equal(t, target.StateAbsent, m.State(), "releasing a removed lease must not resurrect the target")

	d := rec.detached()
	require.Len(t, d, 1)
	assert.True(t, d[0].Abrupt)
	assert.NotContains(t, rec.states(), "detaching")
}

func TestManagerProbeFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	probeErr := retry.Errorf(retry.CategoryResource, "not enough space")
	m := target.NewManager(target.Config{Name: "usb", Path: t.TempDir()},
		target.WithEmitter(rec),
		target.WithProber(target.ProberFunc(func(context.Context, string) (target.ProbeResult, error) {
			return target.ProbeResult{}, probeErr
		})))

	m.Handle(context.Background(), target.Event{Kind: target.EventAttached})
	assert.Equal(t, target.StateFailed, m.State())
	assert.Contains(t, m.Snapshot().Reason, "not enough space")

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, target.ErrNotReady)
	assert.Equal(t, string(retry.CategoryDevice), retry.CategoryOf(err))

	m.Handle(context.Background(), target.Event{Kind: target.EventDetached})
	assert.Equal(t, target.StateAbsent, m.State())
	assert.Equal(t, []string{"attaching", "failed", "absent"}, rec.states())
}

func TestManagerAcquireAbsent(t *testing.T) {
	t.Parallel()

	m := target.NewManager(target.Config{Name: "usb", Path: t.TempDir()})
	_, err := m.Acquire(context.Background())
	assert.True(t, errors.Is(err, target.ErrNotReady))
}

func TestManagerLockExcludesOtherProcesses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := target.NewManager(target.Config{Name: "a", Path: dir}, target.WithProber(okProbe()))
	b := target.NewManager(target.Config{Name: "b", Path: dir}, target.WithProber(okProbe()))
	a.Handle(context.Background(), target.Event{Kind: target.EventAttached})
	b.Handle(context.Background(), target.Event{Kind: target.EventAttached})

	lease, err := a.Acquire(context.Background())
	require.NoError(t, err)

	_, err = b.Acquire(context.Background())
	assert.ErrorIs(t, err, target.ErrBusy)
	assert.Equal(t, target.StateReady, b.State())

	lease.Release()
	other, err := b.Acquire(context.Background())
	require.NoError(t, err)
	other.Release()
}

func TestManagerGracefulDetachWaitsForRelease(t *testing.T) {
	t.Parallel()

	m, rec := readyManager(t, target.BusyQueue)
	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Detach(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, target.StateBusy, m.State())
	assert.NoError(t, lease.Context().Err(), "graceful detach does not cancel the running sync")

	lease.Release()
	require.NoError(t, <-done)
	assert.Equal(t, target.StateAbsent, m.State())
	require.Len(t, rec.detached(), 1)
	assert.False(t, rec.detached()[0].Abrupt)
}

func TestManagerRunConsumesEvents(t *testing.T) {
	t.Parallel()

	m := target.NewManager(target.Config{Name: "usb", Path: t.TempDir()}, target.WithProber(okProbe()))
	in := make(chan target.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, in) }()

	in <- target.Event{Kind: target.EventAttached}
	require.Eventually(t, func() bool { return m.State() == target.StateReady }, time.Second, 5*time.Millisecond)

	in <- target.Event{Kind: target.EventDetached}
	require.Eventually(t, func() bool { return m.State() == target.StateAbsent }, time.Second, 5*time.Millisecond)

	close(in)
	assert.NoError(t, <-errc)
}

func TestManagerRefresh(t *testing.T) {
	t.Parallel()

	free := int64(50)
	var mu sync.Mutex
	prober := target.ProberFunc(func(context.Context, string) (target.ProbeResult, error) {
		mu.Lock()
		defer mu.Unlock()
		return target.ProbeResult{Capacity: 100, Free: free, Writable: true}, nil
	})
	m := target.NewManager(target.Config{Name: "usb", Path: t.TempDir()}, target.WithProber(prober))

	_, err := m.Refresh(context.Background())
	require.ErrorIs(t, err, target.ErrNotReady)

	m.Handle(context.Background(), target.Event{Kind: target.EventAttached})
	mu.Lock()
	free = 20
	mu.Unlock()

	info, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.Free)
	assert.Equal(t, target.StateReady, info.State)
}
