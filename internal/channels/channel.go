// Package channels provides the outbound adapters for the two external
// messaging surfaces: the customer channel bridge and the human-agent chat
// mirror.
package channels

import (
	"context"

	"github.com/nextlevelbuilder/convogate/internal/bus"
)

// Channel is an outbound messaging surface.
type Channel interface {
	// Name returns the channel identifier ("wabridge", "mirror").
	Name() string

	// Start begins any background work (connections, reconnect loops).
	// Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts the channel down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message. Implementations bound their own
	// retries; an error after retries means the delivery outcome is
	// unknown and the caller must not re-invoke automatically.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Handler consumes normalized inbound events produced by a channel.
type Handler func(ctx context.Context, ev bus.InboundEvent)
