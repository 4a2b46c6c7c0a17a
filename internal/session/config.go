package session

import (
	"time"

	"tradecore/internal/bus"
	"tradecore/internal/correlator"
	"tradecore/internal/model"
	"tradecore/internal/obs"
	"tradecore/internal/risk"
	"tradecore/internal/ticker"
)

const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultHistoricalTimeout = 120 * time.Second
)

// Config holds the session settings.
type Config struct {
	Endpoint string
	ClientID int64
	// Account is stamped on orders that carry none.
	Account           string
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	HistoricalTimeout time.Duration
	MaxTickByTick     int
	IdleTimeout       time.Duration
	MaxBatch          int
	CallQueueSize     int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = correlator.DefaultTimeout
	}
	if c.HistoricalTimeout <= 0 {
		c.HistoricalTimeout = DefaultHistoricalTimeout
	}
	if c.MaxTickByTick <= 0 {
		c.MaxTickByTick = ticker.DefaultMaxTickByTick
	}
	return c
}

// Option customizes a Session.
type Option func(*Session)

// WithMetrics records session counters into m.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRisk runs every order through a pre-trade guard before it is sent.
func WithRisk(e *risk.Engine) Option {
	return func(s *Session) { s.risk = e }
}

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTap hands every inbound event to fn before it is applied.
func WithTap(fn func(model.Event)) Option {
	return func(s *Session) { s.tap = fn }
}

// WithBus publishes onto an existing bus.
func WithBus(b *bus.Bus) Option {
	return func(s *Session) {
		if b != nil {
			s.bus = b
		}
	}
}

// ConnectOptions controls the connect handshake.
type ConnectOptions struct {
	// Sync loads positions, open orders and executions before Connect returns.
	Sync bool
}
