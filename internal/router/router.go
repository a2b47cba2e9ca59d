// Package router is the top-level dispatcher for inbound conversation
// events. It reconciles the customer channel, the chat-mirror and the
// automated responder into one serialized state per customer: echo
// filtering, pause/resume transitions, write-through persistence, reply
// generation and entity upserts, in that order. The pause transition is
// committed before any side effect runs, so a failed send or upsert can
// never leave a takeover unrecorded.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/convogate/internal/bus"
	"github.com/nextlevelbuilder/convogate/internal/channels"
	"github.com/nextlevelbuilder/convogate/internal/convo"
	"github.com/nextlevelbuilder/convogate/internal/crm"
	"github.com/nextlevelbuilder/convogate/internal/echoguard"
	"github.com/nextlevelbuilder/convogate/internal/responder"
	"github.com/nextlevelbuilder/convogate/internal/schedule"
	"github.com/nextlevelbuilder/convogate/internal/store"
)

// Operator directives recognized on the mirror side.
const (
	cmdPause  = "/pause"
	cmdResume = "/resume"
)

// Outcome summarizes what one event caused. Side-effect failures after the
// committed transition set PartialFailure instead of failing the event.
type Outcome struct {
	Echo           bool
	Transitioned   bool
	AutoResumed    bool
	Replied        bool
	PartialFailure bool
}

// Router wires the collaborators together. All fields are set at
// construction except the schedule, which is swappable for config reload.
type Router struct {
	guard     *echoguard.Guard
	convos    *convo.Manager
	entities  *crm.Service
	responder responder.Responder
	customer  channels.Channel
	mirror    channels.Channel

	hours     atomic.Pointer[schedule.Schedule]
	resumeCmd string

	tracer trace.Tracer
	now    func() time.Time
}

// Options carries the construction parameters.
type Options struct {
	Guard     *echoguard.Guard
	Convos    *convo.Manager
	Entities  *crm.Service
	Responder responder.Responder
	Customer  channels.Channel
	Mirror    channels.Channel
	Hours     *schedule.Schedule
	ResumeCmd string // exact resume directive, matched case-insensitive and trimmed
}

func New(opts Options) *Router {
	r := &Router{
		guard:     opts.Guard,
		convos:    opts.Convos,
		entities:  opts.Entities,
		responder: opts.Responder,
		customer:  opts.Customer,
		mirror:    opts.Mirror,
		resumeCmd: strings.ToLower(strings.TrimSpace(opts.ResumeCmd)),
		tracer:    otel.Tracer("convogate/router"),
		now:       time.Now,
	}
	r.hours.Store(opts.Hours)
	return r
}

// SetSchedule swaps the business-hours schedule (config hot reload).
func (r *Router) SetSchedule(s *schedule.Schedule) {
	r.hours.Store(s)
}

// HandleCustomerEvent processes one inbound event from the customer channel.
// The returned error means the event was NOT processed (validation failure
// or the state commit itself failed) and the caller should report failure
// upstream; side-effect problems after the commit only mark the outcome.
func (r *Router) HandleCustomerEvent(ctx context.Context, ev bus.InboundEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}

	ctx, span := r.tracer.Start(ctx, "router.customer_event",
		trace.WithAttributes(attribute.String("customer_id", ev.CustomerID)))
	defer span.End()

	unlock := r.convos.Lock(ev.CustomerID)
	defer unlock()

	conv, err := r.convos.GetOrLoad(ctx, ev.CustomerID)
	if err != nil {
		return Outcome{}, err
	}

	now := r.now()
	win := r.hours.Load().Evaluate(now)
	decision := convo.Transition(conv.Pause, convo.ClassCustomerMessage, "", win.Open, now)

	content := ev.Content
	if ev.Kind == bus.KindAudio {
		content = "[audio] " + ev.Content
	}

	conv.Pause = decision.Next
	conv.Messages = append(conv.Messages, store.Message{
		Role:    store.RoleCustomer,
		Content: content,
		At:      ev.Timestamp,
	})
	conv.LastActivity = now

	if err := r.convos.Commit(ctx, conv); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Transitioned: decision.Changed, AutoResumed: decision.AutoResumed}
	if decision.AutoResumed {
		slog.Info("conversation auto-resumed outside business hours",
			"customer_id", ev.CustomerID, "local_time", win.Local.Format(time.RFC3339))
	}

	// Committed. Everything below is a side effect and must not unwind
	// the transition.

	if err := r.mirror.Send(ctx, bus.OutboundMessage{
		CustomerID: ev.CustomerID,
		Content:    content,
		SenderName: "customer",
	}); err != nil {
		slog.Error("mirror forward failed", "customer_id", ev.CustomerID, "error", err)
		out.PartialFailure = true
	}

	if decision.Respond {
		replied, partial := r.respond(ctx, conv)
		out.Replied = replied
		out.PartialFailure = out.PartialFailure || partial
	}

	if e := extractionFromAttrs(ev.Attrs); !e.Empty() {
		if err := r.entities.Apply(ctx, ev.CustomerID, e); err != nil {
			slog.Error("entity upsert failed", "customer_id", ev.CustomerID, "error", err)
			out.PartialFailure = true
		}
	}

	if out.PartialFailure {
		slog.Warn("event processed with partial failure", "customer_id", ev.CustomerID)
	}
	return out, nil
}

// respond runs one responder turn for an active conversation: generate,
// fingerprint, deliver to both surfaces, record the reply. Called with the
// customer's lock held.
func (r *Router) respond(ctx context.Context, conv *store.Conversation) (replied, partial bool) {
	reply, err := r.responder.GenerateReply(ctx, conv.Messages)
	if err != nil {
		if errors.Is(err, responder.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			// No automated reply this turn; the message is already
			// persisted and visible to humans via the mirror.
			slog.Warn("responder unavailable, skipping reply", "customer_id", conv.CustomerID, "error", err)
			return false, false
		}
		slog.Error("responder failed", "customer_id", conv.CustomerID, "error", err)
		return false, true
	}

	// Register before the mirror send so the webhook echo can never win
	// the race against the fingerprint.
	r.guard.Register(conv.CustomerID, reply.Text)

	if err := r.customer.Send(ctx, bus.OutboundMessage{CustomerID: conv.CustomerID, Content: reply.Text}); err != nil {
		slog.Error("customer send failed (not retrying, delivery ambiguous)",
			"customer_id", conv.CustomerID, "error", err)
		partial = true
	} else {
		replied = true
	}

	if err := r.mirror.Send(ctx, bus.OutboundMessage{CustomerID: conv.CustomerID, Content: reply.Text}); err != nil {
		slog.Error("mirror copy of reply failed", "customer_id", conv.CustomerID, "error", err)
		partial = true
	}

	conv.Messages = append(conv.Messages, store.Message{
		Role:    store.RoleAutomated,
		Content: reply.Text,
		At:      r.now(),
	})
	if err := r.convos.Commit(ctx, conv); err != nil {
		slog.Error("reply not recorded in history", "customer_id", conv.CustomerID, "error", err)
		partial = true
	}

	if !reply.Extraction.Empty() {
		if err := r.entities.Apply(ctx, conv.CustomerID, reply.Extraction); err != nil {
			slog.Error("entity upsert from reply failed", "customer_id", conv.CustomerID, "error", err)
			partial = true
		}
	}
	return replied, partial
}

// HandleMirrorEvent processes one chat-mirror webhook event: either our own
// echo (dropped), an operator directive, or a human taking the conversation
// over.
func (r *Router) HandleMirrorEvent(ctx context.Context, ev bus.InboundEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}

	// Loop-breaker: a message we just pushed to the mirror comes back
	// attributed to a user; drop it before it can look like a takeover.
	if r.guard.IsEcho(ev.CustomerID, ev.Content) {
		slog.Debug("mirror echo dropped", "customer_id", ev.CustomerID)
		return Outcome{Echo: true}, nil
	}

	ctx, span := r.tracer.Start(ctx, "router.mirror_event",
		trace.WithAttributes(attribute.String("customer_id", ev.CustomerID)))
	defer span.End()

	unlock := r.convos.Lock(ev.CustomerID)
	defer unlock()

	conv, err := r.convos.GetOrLoad(ctx, ev.CustomerID)
	if err != nil {
		return Outcome{}, err
	}

	class := r.classifyMirror(ev)
	now := r.now()
	win := r.hours.Load().Evaluate(now)
	decision := convo.Transition(conv.Pause, class, ev.SenderName, win.Open, now)

	conv.Pause = decision.Next
	if class == convo.ClassHumanMessage {
		conv.Messages = append(conv.Messages, store.Message{
			Role:       store.RoleHuman,
			Content:    ev.Content,
			SenderName: ev.SenderName,
			At:         ev.Timestamp,
		})
	}
	conv.LastActivity = now

	if err := r.convos.Commit(ctx, conv); err != nil {
		// The operator must see the failure, not a false success.
		return Outcome{}, fmt.Errorf("pause state not persisted: %w", err)
	}

	out := Outcome{Transitioned: decision.Changed}
	if decision.Changed {
		slog.Info("pause state changed",
			"customer_id", ev.CustomerID,
			"paused", decision.Next.Paused,
			"reason", string(decision.Next.Reason),
			"owner", decision.Next.Owner)
	}

	// A human writing in the mirror is answering the customer: relay it.
	if class == convo.ClassHumanMessage {
		if err := r.customer.Send(ctx, bus.OutboundMessage{
			CustomerID: ev.CustomerID,
			Content:    ev.Content,
		}); err != nil {
			slog.Error("relay of human message failed", "customer_id", ev.CustomerID, "error", err)
			out.PartialFailure = true
		}
	}
	return out, nil
}

func (r *Router) classifyMirror(ev bus.InboundEvent) convo.EventClass {
	trimmed := strings.ToLower(strings.TrimSpace(ev.Content))

	if ev.Kind == bus.KindCommand {
		switch trimmed {
		case cmdPause:
			return convo.ClassPauseCommand
		case cmdResume:
			return convo.ClassResumeCommand
		}
		// Unknown directive: treat as a human message so nothing is lost.
		return convo.ClassHumanMessage
	}
	if r.resumeCmd != "" && trimmed == r.resumeCmd {
		return convo.ClassResumeCommand
	}
	return convo.ClassHumanMessage
}

// extractionFromAttrs maps structured webhook fields onto an extraction.
func extractionFromAttrs(attrs map[string]string) *crm.Extraction {
	if len(attrs) == 0 {
		return nil
	}
	var amount int64
	if v := attrs["budget_amount_cents"]; v != "" {
		fmt.Sscanf(v, "%d", &amount)
	}
	return &crm.Extraction{
		LeadName:          attrs["lead_name"],
		LeadEmail:         attrs["lead_email"],
		LeadNotes:         attrs["lead_notes"],
		CompanyTaxID:      attrs["company_tax_id"],
		CompanyName:       attrs["company_name"],
		CompanySegment:    attrs["company_segment"],
		BudgetDescription: attrs["budget_description"],
		BudgetAmountCents: amount,
		BudgetStatus:      attrs["budget_status"],
	}
}
