package enum

// SecType is the closed set of contract variants.
type SecType uint8

const (
	_sec_type_beg SecType = iota
	SecTypeStock
	SecTypeForex
	SecTypeFuture
	SecTypeOption
	SecTypeIndex
	SecTypeCrypto
	_sec_type_end
)

func (s SecType) IsAvailable() bool {
	return s > _sec_type_beg && s < _sec_type_end
}

func (s SecType) String() string {
	switch s {
	case SecTypeStock:
		return "STK"
	case SecTypeForex:
		return "CASH"
	case SecTypeFuture:
		return "FUT"
	case SecTypeOption:
		return "OPT"
	case SecTypeIndex:
		return "IND"
	case SecTypeCrypto:
		return "CRYPTO"
	default:
		return "UNKNOWN"
	}
}

// HasLastPrice reports whether the broker publishes a traded last price for the variant.
// Forex quotes are bid/ask only.
func (s SecType) HasLastPrice() bool {
	return s != SecTypeForex
}

// Right is the option right.
type Right uint8

const (
	_right_beg Right = iota
	RightCall
	RightPut
	_right_end
)

func (r Right) IsAvailable() bool {
	return r > _right_beg && r < _right_end
}

func (r Right) String() string {
	switch r {
	case RightCall:
		return "C"
	case RightPut:
		return "P"
	default:
		return ""
	}
}
