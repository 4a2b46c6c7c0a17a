package recorder

import (
	"time"

	"github.com/yanun0323/logs"

	"tradecore/internal/codec"
	"tradecore/internal/model"
)

// Tap feeds inbound events to a Writer. Record is meant to be installed as
// the dispatcher tap and must be called from a single goroutine.
type Tap struct {
	w       *Writer
	clock   func() time.Time
	seq     uint64
	dropped uint64
}

// NewTap creates a tap over a started writer.
func NewTap(w *Writer, clock func() time.Time) *Tap {
	if clock == nil {
		clock = time.Now
	}
	return &Tap{w: w, clock: clock}
}

// Record encodes and enqueues ev. A full queue or failed writer drops the
// event; the session keeps running.
func (t *Tap) Record(ev model.Event) {
	payload, err := codec.EncodeEvent(ev)
	if err != nil {
		t.drop(ev, err)
		return
	}
	t.seq++
	h := Header{Kind: ev.EventKind(), Seq: t.seq, RecvNano: t.clock().UnixNano()}
	if err := t.w.TryAppend(h, payload); err != nil {
		t.drop(ev, err)
	}
}

// Dropped is the number of events that never reached the writer.
func (t *Tap) Dropped() uint64 {
	return t.dropped
}

func (t *Tap) drop(ev model.Event, err error) {
	t.dropped++
	if t.dropped == 1 || t.dropped%1000 == 0 {
		logs.Errorf("recorder: drop %s (%d dropped), err: %+v", ev.EventKind(), t.dropped, err)
	}
}
