package state

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/model"
	"tradecore/internal/og"
)

var ErrSnapshotMismatch = errors.New("state: snapshot mismatch")

// Snapshot captures the trades and positions of a session at a point in time.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	LastSeq   uint64           `json:"lastSeq"`
	Trades    []TradeEntry     `json:"trades"`
	Positions []model.Position `json:"positions"`
}

// TradeEntry is the serialized form of one Trade.
type TradeEntry struct {
	Key      string                `json:"key"`
	Contract model.Contract        `json:"contract"`
	Order    model.Order           `json:"order"`
	Status   model.OrderStatus     `json:"status"`
	Fills    []model.Fill          `json:"fills,omitempty"`
	Log      []model.TradeLogEntry `json:"log"`
}

// Filled sums the fill quantities of the entry.
func (e TradeEntry) Filled() decimal.Decimal {
	sum := decimal.Zero
	for _, f := range e.Fills {
		sum = sum.Add(f.Execution.Shares)
	}
	return sum
}

// Capture builds a snapshot from the registry. Trades keep registry order,
// positions are sorted by key.
func Capture(reg *og.Registry, lastSeq uint64, now time.Time) Snapshot {
	trades := reg.Trades()
	entries := make([]TradeEntry, 0, len(trades))
	for _, t := range trades {
		entries = append(entries, TradeEntry{
			Key:      t.Key().String(),
			Contract: t.Contract(),
			Order:    *t.Order(),
			Status:   t.OrderStatus(),
			Fills:    t.Fills(),
			Log:      t.Log(),
		})
	}
	positions := reg.Positions()
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Key() < positions[j].Key()
	})
	return Snapshot{
		Timestamp: now.UTC(),
		LastSeq:   lastSeq,
		Trades:    entries,
		Positions: positions,
	}
}

// WriteSnapshot writes a snapshot to disk as indented JSON.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "read %s", path)
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "unmarshal %s", path)
	}
	return snap, nil
}

// CompareSnapshots checks that actual holds the same positions and trade
// outcomes as expected. Log timing is not compared.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return errors.Wrapf(ErrSnapshotMismatch, "positions: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	want := make(map[string]model.Position, len(expected.Positions))
	for _, p := range expected.Positions {
		want[p.Key()] = p
	}
	for _, p := range actual.Positions {
		w, ok := want[p.Key()]
		if !ok {
			return errors.Wrapf(ErrSnapshotMismatch, "unexpected position %s", p.Key())
		}
		if !w.Quantity.Equal(p.Quantity) || !w.AvgCost.Equal(p.AvgCost) {
			return errors.Wrapf(ErrSnapshotMismatch, "position %s: expected=%s@%s actual=%s@%s",
				p.Key(), w.Quantity, w.AvgCost, p.Quantity, p.AvgCost)
		}
	}

	if len(expected.Trades) != len(actual.Trades) {
		return errors.Wrapf(ErrSnapshotMismatch, "trades: expected=%d actual=%d", len(expected.Trades), len(actual.Trades))
	}
	trades := make(map[string]TradeEntry, len(expected.Trades))
	for _, t := range expected.Trades {
		trades[t.Key] = t
	}
	for _, t := range actual.Trades {
		w, ok := trades[t.Key]
		switch {
		case !ok:
			return errors.Wrapf(ErrSnapshotMismatch, "unexpected trade %s", t.Key)
		case w.Status.Status != t.Status.Status:
			return errors.Wrapf(ErrSnapshotMismatch, "trade %s: expected=%s actual=%s", t.Key, w.Status.Status, t.Status.Status)
		case len(w.Fills) != len(t.Fills) || !w.Filled().Equal(t.Filled()):
			return errors.Wrapf(ErrSnapshotMismatch, "trade %s: expected filled=%s actual filled=%s", t.Key, w.Filled(), t.Filled())
		}
	}
	return nil
}
