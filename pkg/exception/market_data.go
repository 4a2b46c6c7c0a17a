package exception

import "github.com/yanun0323/errors"

var (
	ErrResourceLimit = errors.New("market data: subscription limit reached")
	ErrNotSubscribed = errors.New("market data: not subscribed")
	ErrUnknownTicker = errors.New("market data: unknown ticker request")
)
