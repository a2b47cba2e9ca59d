package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/bus"
)

func TestParseWebhookHumanMessage(t *testing.T) {
	body := `{
		"event": "message_created",
		"message_type": "outgoing",
		"content": "Assumindo",
		"sender": {"name": "Tiago", "type": "user"},
		"customer": {"phone": "+55 11 99999-9999"},
		"created_at": 1766000000
	}`

	ev, ok, err := ParseWebhook([]byte(body))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if !ok {
		t.Fatal("expected a routable event")
	}
	if ev.CustomerID != "5511999999999" {
		t.Errorf("customer id %q", ev.CustomerID)
	}
	if ev.Source != bus.SourceMirror || !ev.FromHuman || ev.SenderName != "Tiago" {
		t.Errorf("sender metadata: %+v", ev)
	}
	if ev.Kind != bus.KindText {
		t.Errorf("kind %q", ev.Kind)
	}
}

func TestParseWebhookCommand(t *testing.T) {
	body := `{
		"event": "message_created",
		"message_type": "outgoing",
		"content": "  /pause ",
		"sender": {"name": "Ana", "type": "user"},
		"customer": {"phone": "5511999999999"}
	}`

	ev, ok, err := ParseWebhook([]byte(body))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if ev.Kind != bus.KindCommand {
		t.Errorf("kind %q, want command", ev.Kind)
	}
}

func TestParseWebhookSkipsNonRoutable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"other event", `{"event": "conversation_updated"}`},
		{"incoming copy", `{"event": "message_created", "message_type": "incoming", "content": "oi", "customer": {"phone": "5511999999999"}}`},
		{"private note", `{"event": "message_created", "message_type": "outgoing", "private": true, "content": "nota", "customer": {"phone": "5511999999999"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := ParseWebhook([]byte(tt.body))
			if err != nil {
				t.Fatalf("err: %v", err)
			}
			if ok {
				t.Error("non-routable delivery produced an event")
			}
		})
	}
}

func TestParseWebhookMalformed(t *testing.T) {
	if _, _, err := ParseWebhook([]byte(`{not json`)); err == nil {
		t.Error("malformed body accepted")
	}

	noPhone := `{"event": "message_created", "message_type": "outgoing", "content": "oi", "customer": {"phone": ""}}`
	if _, _, err := ParseWebhook([]byte(noPhone)); err == nil {
		t.Error("missing phone accepted")
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing bearer token")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "1", "tok", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(context.Background(), bus.OutboundMessage{CustomerID: "5511999999999", Content: "Olá"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "1", "tok", 2*time.Second)
	if err := c.Send(context.Background(), bus.OutboundMessage{CustomerID: "5511999999999", Content: "Olá"}); err == nil {
		t.Fatal("client error swallowed")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestSendAmbiguousAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "1", "tok", 2*time.Second)
	err := c.Send(context.Background(), bus.OutboundMessage{CustomerID: "5511999999999", Content: "Olá"})
	if err == nil {
		t.Fatal("exhausted send reported success")
	}
	if !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("error should flag ambiguity: %v", err)
	}
}
