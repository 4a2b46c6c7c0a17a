package enum

import "fmt"

// OrderStatus is the broker-reported order status.
//
// PendingSubmit is the initial status, Filled, Cancelled, ApiCancelled and
// Inactive are terminal, everything else is live.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusPendingSubmit
	OrderStatusApiPending
	OrderStatusPreSubmitted
	OrderStatusSubmitted
	OrderStatusPendingCancel
	OrderStatusApiCancelled
	OrderStatusCancelled
	OrderStatusFilled
	OrderStatusInactive
	_order_status_end
)

var orderStatusNames = [...]string{
	OrderStatusPendingSubmit: "PendingSubmit",
	OrderStatusApiPending:    "ApiPending",
	OrderStatusPreSubmitted:  "PreSubmitted",
	OrderStatusSubmitted:     "Submitted",
	OrderStatusPendingCancel: "PendingCancel",
	OrderStatusApiCancelled:  "ApiCancelled",
	OrderStatusCancelled:     "Cancelled",
	OrderStatusFilled:        "Filled",
	OrderStatusInactive:      "Inactive",
}

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

func (s OrderStatus) String() string {
	if !s.IsAvailable() {
		return "Unknown"
	}
	return orderStatusNames[s]
}

// IsDone reports whether the status is terminal.
func (s OrderStatus) IsDone() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusApiCancelled, OrderStatusInactive:
		return true
	default:
		return false
	}
}

// ParseOrderStatus maps a broker status name to the enum.
func ParseOrderStatus(name string) (OrderStatus, bool) {
	for s := _order_status_beg + 1; s < _order_status_end; s++ {
		if orderStatusNames[s] == name {
			return s, true
		}
	}
	return _order_status_beg, false
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, ok := ParseOrderStatus(string(b))
	if !ok {
		return fmt.Errorf("unknown order status %q", b)
	}
	*s = v
	return nil
}
