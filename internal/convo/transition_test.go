package convo

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

var now = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func active() store.PauseState {
	return store.PauseState{}
}

func pausedBy(owner string) store.PauseState {
	return store.PauseState{
		Paused: true,
		Reason: store.ReasonHumanIntervention,
		Owner:  owner,
		Since:  now.Add(-time.Hour),
	}
}

func TestHumanMessagePausesActiveConversation(t *testing.T) {
	d := Transition(active(), ClassHumanMessage, "Tiago", true, now)
	if !d.Changed || !d.Next.Paused {
		t.Fatalf("expected pause, got %+v", d)
	}
	if d.Next.Reason != store.ReasonHumanIntervention || d.Next.Owner != "Tiago" {
		t.Errorf("wrong pause attribution: %+v", d.Next)
	}
	if d.Respond {
		t.Error("human takeover must not trigger a reply")
	}
}

func TestHumanMessageIdempotentForSameOwner(t *testing.T) {
	d := Transition(pausedBy("Tiago"), ClassHumanMessage, "Tiago", true, now)
	if d.Changed {
		t.Errorf("same-owner repeat should be a no-op, got %+v", d)
	}
}

func TestHumanMessageReassignsOwner(t *testing.T) {
	d := Transition(pausedBy("Tiago"), ClassHumanMessage, "Ana", true, now)
	if !d.Changed || d.Next.Owner != "Ana" {
		t.Errorf("last-committed owner should win, got %+v", d.Next)
	}
}

func TestResumeCommand(t *testing.T) {
	d := Transition(pausedBy("Tiago"), ClassResumeCommand, "", true, now)
	if !d.Changed || d.Next.Paused {
		t.Fatalf("resume did not clear pause: %+v", d)
	}

	// Resuming an active conversation is a no-op.
	d = Transition(active(), ClassResumeCommand, "", true, now)
	if d.Changed {
		t.Errorf("resume on active changed state: %+v", d)
	}
}

func TestCustomerMessageWhileActive(t *testing.T) {
	d := Transition(active(), ClassCustomerMessage, "", true, now)
	if d.Changed || !d.Respond {
		t.Errorf("active conversation should answer: %+v", d)
	}
}

func TestCustomerMessageWhilePausedInsideHours(t *testing.T) {
	d := Transition(pausedBy("Tiago"), ClassCustomerMessage, "", true, now)
	if d.Changed {
		t.Errorf("pause must hold during business hours: %+v", d)
	}
	if d.Respond {
		t.Error("paused conversation must not answer")
	}
}

func TestCustomerMessageWhilePausedOutsideHours(t *testing.T) {
	d := Transition(pausedBy("Tiago"), ClassCustomerMessage, "", false, now)
	if !d.Changed || d.Next.Paused {
		t.Fatalf("expected auto-resume outside hours: %+v", d)
	}
	if !d.AutoResumed {
		t.Error("auto-resume must be flagged for audit")
	}
	if !d.Respond {
		t.Error("auto-resumed conversation should answer")
	}
}

func TestManualPauseAndResume(t *testing.T) {
	d := Transition(active(), ClassPauseCommand, "Ana", true, now)
	if !d.Next.Paused || d.Next.Reason != store.ReasonManual {
		t.Fatalf("manual pause: %+v", d.Next)
	}

	d = Transition(d.Next, ClassPauseCommand, "Ana", true, now)
	if d.Changed {
		t.Error("repeated manual pause by same owner should be a no-op")
	}

	d = Transition(d.Next, ClassResumeCommand, "", true, now)
	if d.Next.Paused {
		t.Error("resume did not clear manual pause")
	}
}

func TestTransitionIsTotal(t *testing.T) {
	states := []store.PauseState{active(), pausedBy("Tiago"), {Paused: true, Reason: store.ReasonManual, Owner: "Ana", Since: now}}
	classes := []EventClass{ClassCustomerMessage, ClassHumanMessage, ClassResumeCommand, ClassPauseCommand}
	for _, st := range states {
		for _, cl := range classes {
			for _, open := range []bool{true, false} {
				d := Transition(st, cl, "X", open, now)
				// Next must always be a coherent state.
				if d.Next.Paused && d.Next.Reason == "" {
					t.Errorf("paused without reason: state=%+v class=%d open=%v", st, cl, open)
				}
				if !d.Next.Paused && (d.Next.Owner != "" || d.Next.Reason != "") {
					t.Errorf("active state carries pause attribution: %+v", d.Next)
				}
			}
		}
	}
}
