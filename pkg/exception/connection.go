package exception

import "github.com/yanun0323/errors"

var (
	ErrConnectionLost = errors.New("session: connection lost")
	ErrNotConnected   = errors.New("session: not connected")
	ErrTimeout        = errors.New("session: request timeout")
)
