package enum

// RiskReason names the check that rejected an order.
type RiskReason uint8

const (
	_risk_reason_beg RiskReason = iota
	RiskReasonNone
	RiskReasonKillSwitch
	RiskReasonRateLimit
	RiskReasonMaxQty
	RiskReasonPriceBand
	RiskReasonMaxNotional
	RiskReasonPositionLimit
	_risk_reason_end
)

// RiskReasonCount is one past the largest valid reason, for sizing per-reason arrays.
const RiskReasonCount = int(_risk_reason_end)

func (r RiskReason) IsAvailable() bool {
	return r > _risk_reason_beg && r < _risk_reason_end
}

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "none"
	case RiskReasonKillSwitch:
		return "kill_switch"
	case RiskReasonRateLimit:
		return "rate_limit"
	case RiskReasonMaxQty:
		return "max_qty"
	case RiskReasonPriceBand:
		return "price_band"
	case RiskReasonMaxNotional:
		return "max_notional"
	case RiskReasonPositionLimit:
		return "position_limit"
	default:
		return "unknown"
	}
}
