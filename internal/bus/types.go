// Package bus defines the normalized event and message types exchanged
// between the ingress surfaces (customer-channel bridge, chat-mirror
// webhook) and the conversation router.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source identifies which external surface delivered an event.
type Source string

const (
	SourceCustomer Source = "customer" // the customer messaging channel (bridge)
	SourceMirror   Source = "mirror"   // the human-agent chat platform
)

// Kind classifies the payload of an inbound event.
type Kind string

const (
	KindText    Kind = "text"
	KindAudio   Kind = "audio"   // content is a media reference; transcription is external
	KindCommand Kind = "command" // operator directive from the mirror side
)

// InboundEvent is the normalized record every webhook delivery is reduced to
// before it reaches the router.
type InboundEvent struct {
	CustomerID string    `json:"customer_id"` // normalized digits-only phone
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       Kind      `json:"kind"`
	Source     Source    `json:"source"`

	// SenderName is set for mirror-side events: the human operator (or the
	// platform's API identity, which the mirror cannot reliably distinguish).
	SenderName string `json:"sender_name,omitempty"`

	// FromHuman reports the mirror's own sender classification. It is
	// advisory only; the echo guard is the authoritative loop-breaker.
	FromHuman bool `json:"from_human,omitempty"`

	// Attrs carries structured lead/company/budget fields some webhook
	// payloads include alongside the message.
	Attrs map[string]string `json:"attrs,omitempty"`
}

// OutboundMessage is a message to deliver to the customer channel or to the
// chat-mirror.
type OutboundMessage struct {
	CustomerID string `json:"customer_id"`
	Content    string `json:"content"`

	// SenderName labels mirror-bound copies of customer messages so
	// operators see who wrote what.
	SenderName string `json:"sender_name,omitempty"`
}

// ErrValidation marks malformed ingress input. Events rejected with it never
// mutate conversation state.
var ErrValidation = errors.New("validation failed")

// NormalizeCustomerID reduces a customer identifier to its digits-only
// canonical form. Identifiers arrive in many shapes ("+55 11 99999-9999",
// "5511999999999@c.us"); every component keys on the canonical form.
func NormalizeCustomerID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) < 8 || len(id) > 15 {
		return "", fmt.Errorf("%w: customer id %q has no usable phone digits", ErrValidation, raw)
	}
	return id, nil
}

// Validate checks an event for the fields the router cannot work without.
func (ev *InboundEvent) Validate() error {
	if ev.CustomerID == "" {
		return fmt.Errorf("%w: missing customer id", ErrValidation)
	}
	if strings.TrimSpace(ev.Content) == "" && ev.Kind != KindAudio {
		return fmt.Errorf("%w: empty content", ErrValidation)
	}
	switch ev.Source {
	case SourceCustomer, SourceMirror:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrValidation, ev.Source)
	}
	return nil
}
