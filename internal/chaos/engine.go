package chaos

import (
	"fmt"
	"math/rand"
	"time"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64   `json:"seed" yaml:"seed"`
	DropRate      float64 `json:"dropRate" yaml:"dropRate"`
	DuplicateRate float64 `json:"duplicateRate" yaml:"duplicateRate"`
	ReorderWindow int     `json:"reorderWindow" yaml:"reorderWindow"`
}

// Engine drops, duplicates and reorders inbound events. Connection level
// events pass through untouched. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []model.Event
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("reorderWindow must be >= 1")
	}
	return nil
}

// Process applies chaos to a single event and returns the events to deliver.
func (e *Engine) Process(ev model.Event) []model.Event {
	if e == nil || exempt(ev) {
		return append(e.Flush(), ev)
	}
	if e.shouldDrop() {
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(ev)
	}
	e.pending = append(e.pending, ev)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns the events still held by the reorder window.
func (e *Engine) Flush() []model.Event {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]model.Event, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		ev := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(ev)...)
	}
	return out
}

func exempt(ev model.Event) bool {
	switch ev.EventKind() {
	case enum.EventNextValidID, enum.EventDisconnected:
		return true
	default:
		return false
	}
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(ev model.Event) []model.Event {
	out := []model.Event{ev}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, ev)
	}
	return out
}
