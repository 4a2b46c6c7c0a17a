package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var (
	ErrQueueFull       = errors.New("tape: queue full")
	ErrClosed          = errors.New("tape: writer closed")
	ErrNotStarted      = errors.New("tape: writer not started")
	ErrAlreadyStarted  = errors.New("tape: writer already started")
	ErrPayloadTooLarge = errors.New("tape: payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

// Writer appends records to rotating tape segments from a buffered queue. The
// caller never blocks on disk.
type Writer struct {
	cfg Config
	ch  chan record
	wg  sync.WaitGroup

	errMu sync.Mutex
	err   error

	started atomic.Bool
	closed  atomic.Bool
	written atomic.Uint64
}

type record struct {
	header  Header
	payload []byte
}

type segment struct {
	path     string
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

// NewWriter creates a tape writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create tape dir %s", cfg.Dir)
	}
	return &Writer{
		cfg: cfg,
		ch:  make(chan record, cfg.QueueSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close drains the queue, flushes and syncs the open segment.
func (w *Writer) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Written is the number of records handed to a segment.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// TryAppend enqueues a record without blocking. The payload must not be
// modified afterwards.
func (w *Writer) TryAppend(h Header, payload []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.started.Load() {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	select {
	case w.ch <- record{header: h, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Append enqueues a record, waiting for room until ctx is done. It must not
// race with Close.
func (w *Writer) Append(ctx context.Context, h Header, payload []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.started.Load() {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	select {
	case w.ch <- record{header: h, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		seg       *segment
		segID     uint64
		headerBuf = make([]byte, recordHeaderSize)
		flushC    <-chan time.Time
		syncC     <-chan time.Time
	)

	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}
	defer func() {
		if err := closeSegment(seg); err != nil {
			w.setErr(err)
		}
	}()

	write := func(rec record) bool {
		if err := w.write(&seg, &segID, headerBuf, rec); err != nil {
			logs.Errorf("recorder: write seq %d, err: %+v", rec.header.Seq, err)
			w.setErr(err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec, ok := <-w.ch:
					if !ok || !write(rec) {
						return
					}
				default:
					return
				}
			}
		case rec, ok := <-w.ch:
			if !ok || !write(rec) {
				return
			}
		case <-flushC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		case <-syncC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
				if err := seg.file.Sync(); err != nil {
					w.setErr(err)
					return
				}
			}
		}
	}
}

func (w *Writer) write(seg **segment, segID *uint64, headerBuf []byte, rec record) error {
	now := time.Now().UTC()
	size := int64(recordHeaderSize + len(rec.payload) + recordChecksumSize)
	if w.shouldRotate(*seg, now, size) {
		if err := closeSegment(*seg); err != nil {
			return err
		}
		opened, err := w.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}

	encodeHeader(headerBuf, rec.header, len(rec.payload))
	var sum [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], checksum(headerBuf, rec.payload))

	s := *seg
	for _, part := range [][]byte{headerBuf, rec.payload, sum[:]} {
		if _, err := s.buf.Write(part); err != nil {
			return errors.Wrapf(err, "write %s", s.path)
		}
	}
	s.size += size
	w.written.Add(1)
	return nil
}

func (w *Writer) shouldRotate(seg *segment, now time.Time, next int64) bool {
	switch {
	case seg == nil:
		return true
	case w.cfg.SegmentMaxBytes > 0 && seg.size+next > w.cfg.SegmentMaxBytes:
		return true
	case w.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration:
		return true
	}
	return false
}

func (w *Writer) openSegment(segID *uint64, now time.Time) (*segment, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID++
		path := filepath.Join(w.cfg.Dir, fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, *segID, fileExt))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "open segment %s", path)
		}
		logs.Infof("recorder: opened segment %s", path)
		return &segment{
			path:     path,
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func closeSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
