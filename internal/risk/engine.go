package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

var bpsScale = decimal.NewFromInt(10000)

// Config defines simple pre-trade limits. Zero values disable a check.
type Config struct {
	KillSwitch           bool            `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty          decimal.Decimal `json:"maxOrderQty" yaml:"-"`
	MaxOrderNotional     decimal.Decimal `json:"maxOrderNotional" yaml:"-"`
	MaxPosition          decimal.Decimal `json:"maxPosition" yaml:"-"`
	OrderRateLimit       int             `json:"orderRateLimit" yaml:"orderRateLimit"`
	OrderRateWindow      time.Duration   `json:"orderRateWindow" yaml:"orderRateWindow"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps" yaml:"maxPriceDeviationBps"`
}

// Enabled reports whether any check is configured.
func (c Config) Enabled() bool {
	return c.KillSwitch ||
		c.MaxOrderQty.IsPositive() ||
		c.MaxOrderNotional.IsPositive() ||
		c.MaxPosition.IsPositive() ||
		(c.OrderRateLimit > 0 && c.OrderRateWindow > 0) ||
		c.MaxPriceDeviationBps > 0
}

// StateView is what the engine knows about the market and the book when an
// order is evaluated.
type StateView struct {
	Position       decimal.Decimal
	ReferencePrice decimal.Decimal
	Now            time.Time
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool
	Reason  enum.RiskReason
}

// Engine evaluates orders against static limits. It is not safe for
// concurrent use.
type Engine struct {
	cfg             Config
	rateWindowStart time.Time
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the limits of the engine.
func (e *Engine) Config() Config {
	return e.cfg
}

// SetKillSwitch toggles the kill switch.
func (e *Engine) SetKillSwitch(on bool) {
	e.cfg.KillSwitch = on
}

// Evaluate applies the checks to an order. Every evaluated order counts
// against the rate limit, allowed or not.
func (e *Engine) Evaluate(order *model.Order, state StateView) Decision {
	allow := Decision{Allowed: true, Reason: enum.RiskReasonNone}
	deny := func(r enum.RiskReason) Decision { return Decision{Reason: r} }

	now := state.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if e.cfg.KillSwitch {
		return deny(enum.RiskReasonKillSwitch)
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		if e.rateWindowStart.IsZero() || now.Sub(e.rateWindowStart) >= e.cfg.OrderRateWindow {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return deny(enum.RiskReasonRateLimit)
		}
	}

	qty := order.TotalQuantity
	if e.cfg.MaxOrderQty.IsPositive() && qty.GreaterThan(e.cfg.MaxOrderQty) {
		return deny(enum.RiskReasonMaxQty)
	}

	if e.cfg.MaxPriceDeviationBps > 0 && order.OrderType.NeedsLimitPrice() && order.LmtPrice.IsPositive() {
		ref := state.ReferencePrice
		if ref.IsPositive() && exceedsDeviation(order.LmtPrice, ref, e.cfg.MaxPriceDeviationBps) {
			return deny(enum.RiskReasonPriceBand)
		}
	}

	price := order.LmtPrice
	if !price.IsPositive() {
		price = state.ReferencePrice
	}
	if e.cfg.MaxOrderNotional.IsPositive() && price.Mul(qty).Abs().GreaterThan(e.cfg.MaxOrderNotional) {
		return deny(enum.RiskReasonMaxNotional)
	}

	next := state.Position.Add(qty.Mul(decimal.NewFromInt(order.Action.Sign())))
	if e.cfg.MaxPosition.IsPositive() && next.Abs().GreaterThan(e.cfg.MaxPosition) {
		return deny(enum.RiskReasonPositionLimit)
	}

	return allow
}

func exceedsDeviation(price, ref decimal.Decimal, bps int64) bool {
	diff := price.Sub(ref).Abs()
	return diff.Mul(bpsScale).GreaterThan(ref.Mul(decimal.NewFromInt(bps)))
}
