package transport

import (
	"context"
	"errors"

	"github.com/sessiondj/peer/pkg/msgrouter"
)

var ErrClosed = errors.New("transport is closed")

// Broadcaster sends a message to every peer in the world, the sender
// included. Delivery is at-most-once with no ordering guarantee; a
// returned error means the local send failed, not that anyone missed
// it. Local state is mutated before Broadcast is called and is never
// rolled back on failure.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg *msgrouter.Message) error
}

// Dispatcher receives decoded inbound messages. The message router
// satisfies it.
type Dispatcher interface {
	DispatchMessage(ctx context.Context, msg *msgrouter.Message) error
}
