package chaos

import (
	"testing"

	"tradecore/internal/model"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
		ok   bool
	}{
		{"defaults", Config{ReorderWindow: 1}, true},
		{"drop above one", Config{DropRate: 1.5, ReorderWindow: 1}, false},
		{"negative duplicate", Config{DuplicateRate: -0.1, ReorderWindow: 1}, false},
		{"zero window", Config{}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if err := tc.cfg.Validate(); (err == nil) != tc.ok {
				t.Fatalf("validate mismatch! ok should be %v, err: %v", tc.ok, err)
			}
		})
	}
}

func TestDuplicateEverything(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, DuplicateRate: 1})
	if err != nil {
		t.Fatalf("new engine: %+v", err)
	}
	out := e.Process(model.PositionEndEvent{})
	if len(out) != 2 {
		t.Fatalf("expected a duplicate, got %d events", len(out))
	}
}

func TestDropEverythingButConnectionEvents(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, DropRate: 1})
	if err != nil {
		t.Fatalf("new engine: %+v", err)
	}
	if out := e.Process(model.PositionEndEvent{}); len(out) != 0 {
		t.Fatalf("expected a drop, got %d events", len(out))
	}
	if out := e.Process(model.DisconnectedEvent{}); len(out) != 1 {
		t.Fatalf("disconnect must pass, got %d events", len(out))
	}
}

func TestReorderWindowKeepsEveryEvent(t *testing.T) {
	e, err := NewEngine(Config{Seed: 7, ReorderWindow: 4})
	if err != nil {
		t.Fatalf("new engine: %+v", err)
	}
	var got []model.Event
	for i := int64(0); i < 10; i++ {
		got = append(got, e.Process(model.CurrentTimeEvent{})...)
	}
	got = append(got, e.Flush()...)
	if len(got) != 10 {
		t.Fatalf("expected 10 events after flush, got %d", len(got))
	}
}

func TestNilEnginePassesThrough(t *testing.T) {
	var e *Engine
	if out := e.Process(model.PositionEndEvent{}); len(out) != 1 {
		t.Fatalf("nil engine must pass events, got %d", len(out))
	}
}
