// Package gateway exposes the webhook HTTP surface: one endpoint per
// external event source plus a health probe. Each request is handled on its
// own goroutine by the stdlib server; ordering per customer is the router's
// job, not the listener's.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/bus"
	"github.com/nextlevelbuilder/convogate/internal/channels/mirror"
	"github.com/nextlevelbuilder/convogate/internal/channels/wabridge"
	"github.com/nextlevelbuilder/convogate/internal/router"
)

const maxBodyBytes = 256 << 10

// Server is the webhook listener.
type Server struct {
	router  *router.Router
	token   string
	limiter *keyedLimiter
	httpSrv *http.Server
}

// New builds the server. token guards both webhook endpoints; empty means
// open (local development only).
func New(host string, port int, token string, rateLimitRPM int, r *router.Router) *Server {
	s := &Server{
		router:  r,
		token:   token,
		limiter: newKeyedLimiter(rateLimitRPM),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/customer", s.guarded(s.handleCustomerWebhook))
	mux.HandleFunc("POST /webhooks/mirror", s.guarded(s.handleMirrorWebhook))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Start begins serving. Returns once the listener is bound; serve errors
// after that are reported on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
	}
	slog.Info("gateway listening", "addr", s.httpSrv.Addr)

	errc := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc, nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// guarded wraps a handler with token auth and per-source rate limiting.
func (s *Server) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + s.token
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		key, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			key = r.RemoteAddr
		}
		if !s.limiter.Allow(key) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next(w, r)
	}
}

// customerWebhookPayload is the customer channel's HTTP delivery shape, for
// deployments where the bridge pushes webhooks instead of holding the
// websocket open.
type customerWebhookPayload struct {
	From      string            `json:"from"`
	Content   string            `json:"content"`
	Kind      string            `json:"kind,omitempty"`
	MediaURL  string            `json:"media_url,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

func (s *Server) handleCustomerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var p customerWebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ev, err := wabridge.Normalize(p.From, p.Content, p.Kind, p.MediaURL, p.Timestamp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ev.Attrs = p.Attrs

	s.dispatch(w, r, func(ctx context.Context) (router.Outcome, error) {
		return s.router.HandleCustomerEvent(ctx, ev)
	})
}

func (s *Server) handleMirrorWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	ev, ok, err := mirror.ParseWebhook(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		// Nothing routable in this delivery; acknowledge it.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.dispatch(w, r, func(ctx context.Context) (router.Outcome, error) {
		return s.router.HandleMirrorEvent(ctx, ev)
	})
}

// dispatch runs the router call and maps its result onto HTTP: 4xx for
// rejected input, 5xx only when the state commit itself failed (so the
// caller knows the event was not applied), 2xx otherwise — including
// processed-with-partial-failure, which must not be redelivered.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, handle func(context.Context) (router.Outcome, error)) {
	out, err := handle(r.Context())
	switch {
	case errors.Is(err, bus.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("event not applied", "error", err)
		http.Error(w, "event not applied", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"echo":            out.Echo,
		"replied":         out.Replied,
		"partial_failure": out.PartialFailure,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
