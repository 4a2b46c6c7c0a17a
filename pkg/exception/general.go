package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNilInstance     = errors.New("nil instance")
	ErrDecode          = errors.New("decode failed")
	ErrTypeUnsupported = errors.New("type unsupported")
)
