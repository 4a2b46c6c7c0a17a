// Package transport defines the boundary between the session core and a
// broker connection.
package transport

import (
	"context"

	"tradecore/internal/model"
)

// Transport carries decoded broker events in and requests out.
//
// Events delivers inbound events in broker order and is closed when the
// connection ends. Send may be called from the loop goroutine only.
type Transport interface {
	Connect(ctx context.Context, endpoint string) error
	Send(ctx context.Context, req model.Request) error
	Events() <-chan model.Event
	Disconnect() error
}
