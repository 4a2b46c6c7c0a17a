package exception

import "github.com/yanun0323/errors"

var (
	ErrUnknownOrder      = errors.New("order: not found")
	ErrTradeDone         = errors.New("order: trade already done")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrInvalidFill       = errors.New("order: invalid fill quantity")
	ErrDuplicateFill     = errors.New("order: duplicate execution id")
	ErrOverfill          = errors.New("order: fills exceed order quantity")
	ErrRiskRejected      = errors.New("order: rejected by risk guard")
)
