package convo

import (
	"time"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

// EventClass is the router's classification of an inbound event, the input
// to the pause/resume transition function.
type EventClass int

const (
	// ClassCustomerMessage: a regular message from the customer channel.
	ClassCustomerMessage EventClass = iota
	// ClassHumanMessage: a mirror-side message written by a human operator
	// (already cleared by the echo guard).
	ClassHumanMessage
	// ClassResumeCommand: a recognized resume directive from the mirror.
	ClassResumeCommand
	// ClassPauseCommand: an explicit operator pause directive.
	ClassPauseCommand
)

// Decision is the outcome of one transition. Next is always meaningful:
// transitions are total, every (state, class, window) input maps somewhere.
type Decision struct {
	Next    store.PauseState
	Changed bool

	// AutoResumed marks the out-of-hours resume path, which carries its
	// own reason code in audit logs.
	AutoResumed bool

	// Respond reports whether the automated responder may run this turn.
	Respond bool
}

// Transition computes the next pause state for one inbound event. Pure
// function; the caller holds the per-customer lock and commits the result,
// so concurrent events for one customer serialize and the last committed
// transition wins.
func Transition(cur store.PauseState, class EventClass, owner string, windowOpen bool, now time.Time) Decision {
	switch class {
	case ClassHumanMessage:
		if cur.Paused && cur.Reason == store.ReasonHumanIntervention && cur.Owner == owner {
			// Same operator keeps typing: idempotent.
			return Decision{Next: cur}
		}
		return Decision{
			Next: store.PauseState{
				Paused: true,
				Reason: store.ReasonHumanIntervention,
				Owner:  owner,
				Since:  now,
			},
			Changed: true,
		}

	case ClassPauseCommand:
		if cur.Paused && cur.Reason == store.ReasonManual && cur.Owner == owner {
			return Decision{Next: cur}
		}
		return Decision{
			Next: store.PauseState{
				Paused: true,
				Reason: store.ReasonManual,
				Owner:  owner,
				Since:  now,
			},
			Changed: true,
		}

	case ClassResumeCommand:
		if !cur.Paused {
			return Decision{Next: cur}
		}
		return Decision{Next: store.PauseState{}, Changed: true}

	case ClassCustomerMessage:
		if !cur.Paused {
			return Decision{Next: cur, Respond: true}
		}
		if !windowOpen {
			// Nobody is around to handle the takeover: hand the
			// conversation back to automation.
			return Decision{Next: store.PauseState{}, Changed: true, AutoResumed: true, Respond: true}
		}
		return Decision{Next: cur}
	}

	// Unknown classification: leave state untouched, no reply.
	return Decision{Next: cur}
}
