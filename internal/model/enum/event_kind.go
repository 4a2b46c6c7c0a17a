package enum

// EventKind tags a decoded inbound event.
type EventKind uint8

const (
	_event_kind_beg EventKind = iota
	EventNextValidID
	EventOrderStatus
	EventOpenOrder
	EventOpenOrderEnd
	EventExecDetails
	EventCommissionReport
	EventPosition
	EventPositionEnd
	EventTick
	EventTickByTick
	EventHistoricalTicks
	EventContractDetails
	EventContractDetailsEnd
	EventCurrentTime
	EventError
	EventDecodeError
	EventDisconnected
	EventExecDetailsEnd
	_event_kind_end
)

var eventKindNames = [...]string{
	EventNextValidID:        "nextValidId",
	EventOrderStatus:        "orderStatus",
	EventOpenOrder:          "openOrder",
	EventOpenOrderEnd:       "openOrderEnd",
	EventExecDetails:        "execDetails",
	EventCommissionReport:   "commissionReport",
	EventPosition:           "position",
	EventPositionEnd:        "positionEnd",
	EventTick:               "tick",
	EventTickByTick:         "tickByTick",
	EventHistoricalTicks:    "historicalTicks",
	EventContractDetails:    "contractDetails",
	EventContractDetailsEnd: "contractDetailsEnd",
	EventCurrentTime:        "currentTime",
	EventError:              "error",
	EventDecodeError:        "decodeError",
	EventDisconnected:       "disconnected",
	EventExecDetailsEnd:     "execDetailsEnd",
}

// EventKindCount is one past the largest valid event kind, for sizing per-kind arrays.
const EventKindCount = int(_event_kind_end)

func (k EventKind) IsAvailable() bool {
	return k > _event_kind_beg && k < _event_kind_end
}

func (k EventKind) String() string {
	if !k.IsAvailable() {
		return "unknown"
	}
	return eventKindNames[k]
}

// ParseEventKind maps a wire name back to the kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k := _event_kind_beg + 1; k < _event_kind_end; k++ {
		if eventKindNames[k] == name {
			return k, true
		}
	}
	return _event_kind_beg, false
}

// RequestKind tags an outbound request.
type RequestKind uint8

const (
	_request_kind_beg RequestKind = iota
	RequestPlaceOrder
	RequestCancelOrder
	RequestWhatIf
	RequestMarketData
	RequestCancelMarketData
	RequestTickByTick
	RequestCancelTickByTick
	RequestHistoricalTicks
	RequestContractDetails
	RequestCurrentTime
	RequestPositions
	RequestOpenOrders
	RequestExecutions
	RequestGlobalCancel
	_request_kind_end
)

var requestKindNames = [...]string{
	RequestPlaceOrder:       "placeOrder",
	RequestCancelOrder:      "cancelOrder",
	RequestWhatIf:           "whatIf",
	RequestMarketData:       "reqMktData",
	RequestCancelMarketData: "cancelMktData",
	RequestTickByTick:       "reqTickByTick",
	RequestCancelTickByTick: "cancelTickByTick",
	RequestHistoricalTicks:  "reqHistoricalTicks",
	RequestContractDetails:  "reqContractDetails",
	RequestCurrentTime:      "reqCurrentTime",
	RequestPositions:        "reqPositions",
	RequestOpenOrders:       "reqOpenOrders",
	RequestExecutions:       "reqExecutions",
	RequestGlobalCancel:     "reqGlobalCancel",
}

func (k RequestKind) IsAvailable() bool {
	return k > _request_kind_beg && k < _request_kind_end
}

func (k RequestKind) String() string {
	if !k.IsAvailable() {
		return "unknown"
	}
	return requestKindNames[k]
}

// ParseRequestKind maps a wire name back to the kind.
func ParseRequestKind(name string) (RequestKind, bool) {
	for k := _request_kind_beg + 1; k < _request_kind_end; k++ {
		if requestKindNames[k] == name {
			return k, true
		}
	}
	return _request_kind_beg, false
}
