package recorder

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func stepClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func tapeEvents() []model.Event {
	return []model.Event{
		model.NextValidIDEvent{OrderID: 7},
		model.ErrorEvent{ReqID: 7, Code: 201, Message: "Order rejected"},
		model.PositionEndEvent{},
		model.TickEvent{ReqID: 3, Tick: model.TickUpdate{Field: enum.TickFieldLast}},
	}
}

func writeTape(t *testing.T, cfg Config, evs []model.Event) {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	tap := NewTap(w, stepClock(time.Unix(1_700_000_000, 0), 100*time.Millisecond))
	for _, ev := range evs {
		tap.Record(ev)
	}
	require.NoError(t, w.Close())
	assert.Zero(t, tap.Dropped())
	assert.Equal(t, uint64(len(evs)), w.Written())
}

func readTape(t *testing.T, p *Playback) ([]Header, []model.Event) {
	t.Helper()
	var (
		headers []Header
		evs     []model.Event
	)
	require.NoError(t, p.Run(context.Background(), func(h Header, ev model.Event) error {
		headers = append(headers, h)
		evs = append(evs, ev)
		return nil
	}))
	return headers, evs
}

func TestTapeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, Config{Dir: dir}, tapeEvents())

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	headers, evs := readTape(t, p)

	require.Len(t, evs, 4)
	assert.Equal(t, model.NextValidIDEvent{OrderID: 7}, evs[0])
	assert.Equal(t, model.ErrorEvent{ReqID: 7, Code: 201, Message: "Order rejected"}, evs[1])
	assert.Equal(t, model.PositionEndEvent{}, evs[2])
	tick, ok := evs[3].(model.TickEvent)
	require.True(t, ok)
	assert.Equal(t, enum.TickFieldLast, tick.Tick.Field)

	for i, h := range headers {
		assert.Equal(t, uint64(i+1), h.Seq)
		assert.Equal(t, evs[i].EventKind(), h.Kind)
	}
}

func TestTapeRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, Config{Dir: dir, SegmentMaxBytes: 64}, tapeEvents())

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := p.Segments()
	require.NoError(t, err)
	assert.Len(t, files, 4)

	headers, _ := readTape(t, p)
	require.Len(t, headers, 4)
	for i, h := range headers {
		assert.Equal(t, uint64(i+1), h.Seq)
	}
}

func TestTapeDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, Config{Dir: dir}, tapeEvents())

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := p.Segments()
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	raw[recordHeaderSize+2] ^= 0xff
	require.NoError(t, os.WriteFile(files[0], raw, 0o644))

	err = p.Run(context.Background(), func(Header, model.Event) error { return nil })
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestTapeTornTail(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, Config{Dir: dir}, tapeEvents())

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := p.Segments()
	require.NoError(t, err)
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	require.NoError(t, os.Truncate(files[0], info.Size()-2))

	var seen int
	err = p.Run(context.Background(), func(Header, model.Event) error {
		seen++
		return nil
	})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 3, seen)
}

func TestPlaybackPacing(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, Config{Dir: dir}, tapeEvents())

	clock := &fakeClock{}
	p, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 2})
	require.NoError(t, err)
	p.WithClock(clock)
	readTape(t, p)

	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}, clock.slept)
}

func TestWriterLifecycle(t *testing.T) {
	w, err := NewWriter(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	require.ErrorIs(t, w.TryAppend(Header{Seq: 1}, nil), ErrNotStarted)
	require.ErrorIs(t, w.Append(context.Background(), Header{Seq: 1}, nil), ErrNotStarted)
	require.NoError(t, w.Start(context.Background()))
	require.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, w.Append(context.Background(), Header{Seq: 1}, []byte("x")))
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(1), w.Written())
	require.ErrorIs(t, w.TryAppend(Header{Seq: 1}, nil), ErrClosed)
	require.ErrorIs(t, w.Append(context.Background(), Header{Seq: 1}, nil), ErrClosed)
	require.NoError(t, w.Close())
}

func TestConfigValidate(t *testing.T) {
	_, err := NewWriter(Config{})
	require.Error(t, err)
	_, err = NewPlayback(PlaybackConfig{Dir: "x", Speed: -1})
	require.Error(t, err)
}
