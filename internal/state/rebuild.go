package state

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"tradecore/internal/bus"
	"tradecore/internal/correlator"
	"tradecore/internal/dispatch"
	"tradecore/internal/events"
	"tradecore/internal/model"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/recorder"
	"tradecore/internal/ticker"
)

// RebuildConfig controls an offline rebuild from a tape.
type RebuildConfig struct {
	TapeDir         string
	FilePrefix      string
	ClientID        int64
	DisableChecksum bool
	SkipUndecodable bool
	// Bus, when set, receives every event the rebuild publishes.
	Bus *bus.Bus
}

// RebuildResult holds the state a tape rebuilt.
type RebuildResult struct {
	Registry *og.Registry
	Ledger   *Ledger
	Metrics  *obs.Metrics
	LastSeq  uint64
	LastRecv time.Time
	Events   int
	Changed  int
}

// Snapshot captures the rebuilt registry.
func (r RebuildResult) Snapshot() Snapshot {
	return Capture(r.Registry, r.LastSeq, r.LastRecv)
}

type discard struct{}

func (discard) Send(context.Context, model.Request) error { return nil }

// follows the taped receive times, so trade log timestamps match the live run.
// follows the taped receive times, so trade logs keep their taped times.
func Rebuild(ctx context.Context, cfg RebuildConfig) (RebuildResult, error) {
	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             cfg.TapeDir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		SkipUndecodable: cfg.SkipUndecodable,
	})
	if err != nil {
		return RebuildResult{}, err
	}

	b := cfg.Bus
	if b == nil {
		b = bus.New()
	}
	var now time.Time
	clock := func() time.Time { return now }
	res := RebuildResult{
		Registry: og.NewRegistry(og.Config{ClientID: cfg.ClientID, Clock: clock}),
		Ledger:   NewLedger(),
		Metrics:  obs.NewMetrics(),
	}
	var ids int64
	nextID := func() int64 {
		ids++
		return ids
	}
	d := dispatch.New(dispatch.Config{
		ClientID: cfg.ClientID,
		Bus:      b,
		Trades:   res.Registry,
		Tickers:  ticker.NewCache(ticker.Config{Sender: discard{}, NextID: nextID}),
		Requests: correlator.New(correlator.Config{Sender: discard{}, NextID: nextID, Clock: clock}),
		Metrics:  res.Metrics,
	})
	h := bus.Subscribe(b, events.FillAdded, func(e events.Fill) {
		res.Ledger.ApplyFill(e.Fill)
	})
	defer b.Unsubscribe(h)

	err = pb.Run(ctx, func(hdr recorder.Header, ev model.Event) error {
		now = time.Unix(0, hdr.RecvNano).UTC()
		res.LastSeq = hdr.Seq
		res.LastRecv = now
		res.Events++
		if d.Dispatch(ev) {
			res.Changed++
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	logs.Infof("state: rebuilt %d trades from %d events (last seq %d)", len(res.Registry.Trades()), res.Events, res.LastSeq)
	return res, nil
}
