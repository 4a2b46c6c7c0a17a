package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/codec"
	"tradecore/internal/model"
	"tradecore/pkg/exception"
)

// PlaybackConfig controls tape playback.
type PlaybackConfig struct {
	Dir        string
	FilePrefix string
	// Speed paces playback relative to the recorded gaps. Zero plays as fast
	// as possible.
	Speed           float64
	DisableChecksum bool
	MaxPayloadSize  int
	// SkipUndecodable keeps going when an envelope fails to decode.
	SkipUndecodable bool
}

// Clock allows deterministic pacing in tests.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays taped events in segment order.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = defaultFilePrefix
	}
	if cfg.Dir == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "playback: dir is empty")
	}
	if cfg.Speed < 0 || cfg.MaxPayloadSize < 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "playback: speed and maxPayloadSize must be >= 0")
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the pacing clock.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Segments lists the tape files in playback order.
func (p *Playback) Segments() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read tape dir %s", p.cfg.Dir)
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Run decodes every taped event and hands it to fn in order.
func (p *Playback) Run(ctx context.Context, fn func(Header, model.Event) error) error {
	if fn == nil {
		return exception.ErrNilInstance
	}
	files, err := p.Segments()
	if err != nil {
		return err
	}
	var prev int64
	for _, path := range files {
		if err := p.play(ctx, path, fn, &prev); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) play(ctx context.Context, path string, fn func(Header, model.Event) error, prev *int64) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		h, payload, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}

		ev, err := codec.DecodeEvent(payload)
		if err != nil {
			if p.cfg.SkipUndecodable {
				continue
			}
			return errors.Wrapf(err, "decode seq %d in %s", h.Seq, path)
		}
		if err := p.pace(ctx, h, prev); err != nil {
			return err
		}
		if err := fn(h, ev); err != nil {
			return err
		}
	}
}

func (p *Playback) pace(ctx context.Context, h Header, prev *int64) error {
	if p.cfg.Speed <= 0 || h.RecvNano <= 0 {
		return nil
	}
	if *prev > 0 && h.RecvNano > *prev {
		gap := time.Duration(float64(h.RecvNano-*prev) / p.cfg.Speed)
		if err := p.clock.Sleep(ctx, gap); err != nil {
			return err
		}
	}
	*prev = h.RecvNano
	return nil
}
