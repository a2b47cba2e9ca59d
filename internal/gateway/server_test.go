package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/bus"
	"github.com/nextlevelbuilder/convogate/internal/convo"
	"github.com/nextlevelbuilder/convogate/internal/crm"
	"github.com/nextlevelbuilder/convogate/internal/echoguard"
	"github.com/nextlevelbuilder/convogate/internal/responder"
	"github.com/nextlevelbuilder/convogate/internal/router"
	"github.com/nextlevelbuilder/convogate/internal/schedule"
	"github.com/nextlevelbuilder/convogate/internal/store"
	"github.com/nextlevelbuilder/convogate/internal/store/memory"
)

type nullChannel struct{ name string }

func (n *nullChannel) Name() string                                { return n.name }
func (n *nullChannel) Start(context.Context) error                 { return nil }
func (n *nullChannel) Stop(context.Context) error                  { return nil }
func (n *nullChannel) Send(context.Context, bus.OutboundMessage) error { return nil }

type staticResponder struct{}

func (staticResponder) GenerateReply(context.Context, []store.Message) (*responder.Reply, error) {
	return &responder.Reply{Text: "Olá"}, nil
}

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()

	hours, err := schedule.Parse("UTC", map[string]string{"monday": "08:00-18:00"})
	if err != nil {
		t.Fatal(err)
	}
	stores := memory.New()
	r := router.New(router.Options{
		Guard:     echoguard.New(10 * time.Second),
		Convos:    convo.NewManager(stores.Conversations, 0),
		Entities:  crm.NewService(stores),
		Responder: staticResponder{},
		Customer:  &nullChannel{name: "wabridge"},
		Mirror:    &nullChannel{name: "mirror"},
		Hours:     hours,
		ResumeCmd: "#voltar",
	})

	s := New("127.0.0.1", 0, token, 600, r)
	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestCustomerWebhook(t *testing.T) {
	_, ts := newTestServer(t, "")

	body := `{"from": "5511999999999@c.us", "content": "oi"}`
	resp, err := http.Post(ts.URL+"/webhooks/customer", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestCustomerWebhookRejectsMalformed(t *testing.T) {
	_, ts := newTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{oops`},
		{"no phone", `{"from": "", "content": "oi"}`},
		{"blank content", `{"from": "5511999999999", "content": "  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/webhooks/customer", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestMirrorWebhookNonRoutableAcknowledged(t *testing.T) {
	_, ts := newTestServer(t, "")

	body := `{"event": "conversation_updated"}`
	resp, err := http.Post(ts.URL+"/webhooks/mirror", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status %d, want 204", resp.StatusCode)
	}
}

func TestWebhookTokenRequired(t *testing.T) {
	_, ts := newTestServer(t, "sekrit")

	body := `{"from": "5511999999999", "content": "oi"}`
	resp, err := http.Post(ts.URL+"/webhooks/customer", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/customer", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d with token, want 200", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, "sekrit")

	// Health needs no token.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestKeyedLimiter(t *testing.T) {
	l := newKeyedLimiter(60) // 1 rps, burst 10

	allowed := 0
	for i := 0; i < 50; i++ {
		if l.Allow("1.2.3.4") {
			allowed++
		}
	}
	if allowed >= 50 {
		t.Error("limiter never limited")
	}
	if allowed == 0 {
		t.Error("limiter rejected everything")
	}

	// Independent keys have independent budgets.
	if !l.Allow("5.6.7.8") {
		t.Error("fresh key rejected")
	}
}
