package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/recorder"
	"tradecore/internal/transport/sim"
)

var (
	fixed = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	aapl  = model.Stock("AAPL", "SMART", "USD")
)

func recordSession(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()
	b := sim.New(sim.Config{NextValidID: 1, Auto: true, Clock: func() time.Time { return fixed }})
	require.NoError(t, b.Connect(ctx, "sim://state"))

	market := model.MarketOrder(enum.ActionBuy, decimal.NewFromInt(10))
	market.OrderID, market.ClientID = 1, 7
	limit := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(5), decimal.NewFromInt(99))
	limit.OrderID, limit.ClientID = 2, 7
	require.NoError(t, b.Send(ctx, model.PlaceOrderRequest{Contract: aapl, Order: *market}))
	require.NoError(t, b.Send(ctx, model.PlaceOrderRequest{Contract: aapl, Order: *limit}))
	require.NoError(t, b.Fill(2, decimal.NewFromInt(2), decimal.NewFromInt(99)))
	require.NoError(t, b.Disconnect())

	w, err := recorder.NewWriter(recorder.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	now := fixed
	tap := recorder.NewTap(w, func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})
	for ev := range b.Events() {
		tap.Record(ev)
	}
	require.NoError(t, w.Close())
}

func TestRebuildFromTape(t *testing.T) {
	dir := t.TempDir()
	recordSession(t, dir)

	res, err := Rebuild(context.Background(), RebuildConfig{TapeDir: dir, ClientID: 7})
	require.NoError(t, err)

	trades := res.Registry.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, enum.OrderStatusFilled, trades[0].Status())
	assert.Len(t, trades[0].Fills(), 1)
	assert.NotNil(t, trades[0].Fills()[0].Commission)
	assert.Equal(t, enum.OrderStatusSubmitted, trades[1].Status())
	assert.True(t, trades[1].Filled().Equal(decimal.NewFromInt(2)))

	last, ok := trades[0].LastLog()
	require.True(t, ok)
	assert.True(t, trades[0].Log()[0].Time.After(fixed), "admission is stamped with the tape time")
	assert.False(t, last.Time.Before(trades[0].Log()[0].Time))

	assert.True(t, res.Ledger.Net("DU000001", aapl).Equal(decimal.NewFromInt(12)))
	assert.Empty(t, res.Ledger.Diff(res.Registry.Positions()))
	assert.Equal(t, res.Events, int(res.LastSeq))
	assert.Positive(t, res.Changed)
}

func TestSnapshotRoundTripAndCompare(t *testing.T) {
	dir := t.TempDir()
	recordSession(t, dir)
	res, err := Rebuild(context.Background(), RebuildConfig{TapeDir: dir, ClientID: 7})
	require.NoError(t, err)

	snap := res.Snapshot()
	require.Len(t, snap.Trades, 2)
	require.Len(t, snap.Positions, 1)

	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	require.NoError(t, WriteSnapshot(path, snap))
	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(snap, loaded))
	assert.Equal(t, snap.LastSeq, loaded.LastSeq)
	assert.Equal(t, snap.Trades[0].Key, loaded.Trades[0].Key)

	loaded.Positions[0].Quantity = decimal.NewFromInt(11)
	require.ErrorIs(t, CompareSnapshots(snap, loaded), ErrSnapshotMismatch)

	loaded, err = ReadSnapshot(path)
	require.NoError(t, err)
	loaded.Trades[1].Status.Status = enum.OrderStatusCancelled
	require.ErrorIs(t, CompareSnapshots(snap, loaded), ErrSnapshotMismatch)

	loaded.Trades = loaded.Trades[:1]
	require.ErrorIs(t, CompareSnapshots(snap, loaded), ErrSnapshotMismatch)
}

func TestLedgerDiff(t *testing.T) {
	eurusd := model.Forex("EURUSD")
	fill := func(contract model.Contract, side enum.Action, qty int64) model.Fill {
		return model.Fill{Contract: contract, Execution: model.Execution{
			Account: "U1",
			Side:    side,
			Shares:  decimal.NewFromInt(qty),
		}}
	}

	l := NewLedger()
	l.ApplyFill(fill(aapl, enum.ActionBuy, 10))
	l.ApplyFill(fill(aapl, enum.ActionSell, 4))
	l.ApplyFill(fill(eurusd, enum.ActionSell, 1000))
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Net("U1", aapl).Equal(decimal.NewFromInt(6)))
	assert.True(t, l.Net("U1", eurusd).Equal(decimal.NewFromInt(-1000)))

	reported := []model.Position{
		{Account: "U1", Contract: aapl, Quantity: decimal.NewFromInt(6)},
	}
	eurKey := model.Position{Account: "U1", Contract: eurusd}.Key()
	assert.Equal(t, []string{eurKey}, l.Diff(reported))

	reported = append(reported, model.Position{Account: "U1", Contract: eurusd, Quantity: decimal.NewFromInt(-1000)})
	assert.Empty(t, l.Diff(reported))
}

func TestRebuildRequiresTapeDir(t *testing.T) {
	_, err := Rebuild(context.Background(), RebuildConfig{})
	require.Error(t, err)
}
