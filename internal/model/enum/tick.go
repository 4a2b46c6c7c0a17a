package enum

// TickField identifies which live quote field a tick updates.
type TickField uint8

const (
	_tick_field_beg TickField = iota
	TickFieldBid
	TickFieldBidSize
	TickFieldAsk
	TickFieldAskSize
	TickFieldLast
	TickFieldLastSize
	TickFieldHigh
	TickFieldLow
	TickFieldClose
	TickFieldOpen
	TickFieldVolume
	_tick_field_end
)

func (f TickField) IsAvailable() bool {
	return f > _tick_field_beg && f < _tick_field_end
}

// IsSize reports whether the field carries a size rather than a price.
func (f TickField) IsSize() bool {
	switch f {
	case TickFieldBidSize, TickFieldAskSize, TickFieldLastSize, TickFieldVolume:
		return true
	default:
		return false
	}
}

// TickByTickKind is the raw stream type of a tick-by-tick subscription.
type TickByTickKind uint8

const (
	_tick_by_tick_kind_beg TickByTickKind = iota
	TickByTickLast
	TickByTickAllLast
	TickByTickBidAsk
	TickByTickMidPoint
	_tick_by_tick_kind_end
)

func (k TickByTickKind) IsAvailable() bool {
	return k > _tick_by_tick_kind_beg && k < _tick_by_tick_kind_end
}

func (k TickByTickKind) String() string {
	switch k {
	case TickByTickLast:
		return "Last"
	case TickByTickAllLast:
		return "AllLast"
	case TickByTickBidAsk:
		return "BidAsk"
	case TickByTickMidPoint:
		return "MidPoint"
	default:
		return "Unknown"
	}
}

// HistoricalTickKind selects what a historical tick fetch returns.
type HistoricalTickKind uint8

const (
	_historical_tick_kind_beg HistoricalTickKind = iota
	HistoricalTickBidAsk
	HistoricalTickMidpoint
	HistoricalTickTrades
	_historical_tick_kind_end
)

func (k HistoricalTickKind) IsAvailable() bool {
	return k > _historical_tick_kind_beg && k < _historical_tick_kind_end
}

func (k HistoricalTickKind) String() string {
	switch k {
	case HistoricalTickBidAsk:
		return "BID_ASK"
	case HistoricalTickMidpoint:
		return "MIDPOINT"
	case HistoricalTickTrades:
		return "TRADES"
	default:
		return "UNKNOWN"
	}
}
