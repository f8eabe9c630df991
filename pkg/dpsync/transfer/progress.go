package transfer

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// progress tracks one item and throttles its progress events.
type progress struct {
	r       *run
	op      int
	item    types.CatalogItem
	written atomic.Int64
	events  *rate.Limiter
}

func (x *Executor) newProgress(r *run, op int, item types.CatalogItem) *progress {
	return &progress{
		r:      r,
		op:     op,
		item:   item,
		events: rate.NewLimiter(rate.Every(x.cfg.ProgressInterval), 1),
	}
}

// reset starts a new attempt at offset. Bytes of an abandoned attempt are
// taken back out of the executor total.
func (p *progress) reset(offset int64) {
	prev := p.written.Swap(offset)
	p.r.x.bytes.Add(offset - prev)
	p.r.setTransferred(p.op, offset)
}

func (p *progress) add(n int) {
	total := p.written.Add(int64(n))
	p.r.x.bytes.Add(int64(n))
	if !p.events.Allow() {
		return
	}
	p.r.setTransferred(p.op, total)
	p.r.x.emit.Emit(events.ItemProgress{
		Target:  p.r.target,
		CycleID: p.r.cycle,
		ItemID:  p.item.ID,
		Bytes:   total,
		Total:   p.item.Size,
	})
}

// throttledWriter observes cancellation and the shared bandwidth limit on
// every write.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
	p       *progress
}

func (t *throttledWriter) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		if err := t.ctx.Err(); err != nil {
			return written, context.Cause(t.ctx)
		}
		chunk := b
		if t.limiter != nil {
			if burst := t.limiter.Burst(); len(chunk) > burst {
				chunk = chunk[:burst]
			}
			if err := t.limiter.WaitN(t.ctx, len(chunk)); err != nil {
				return written, err
			}
		}
		n, err := t.w.Write(chunk)
		written += n
		t.p.add(n)
		if err != nil {
			return written, err
		}
		b = b[n:]
	}
	return written, nil
}
