package exception

import "github.com/yanun0323/errors"

var (
	ErrUnknownRequest     = errors.New("request: unknown request id")
	ErrBrokerError        = errors.New("request: broker returned an error")
	ErrUnknownContract    = errors.New("request: unknown contract")
	ErrAmbiguousContract  = errors.New("request: ambiguous contract")
	ErrUnexpectedResponse = errors.New("request: unexpected response type")
)
