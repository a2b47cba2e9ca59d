// Package mirror is the adapter for the human-agent chat platform that
// mirrors every customer conversation. Outbound: messages are created
// through its HTTP API so operators see both sides. Inbound: its webhook
// reports message-created events — including the ones this system itself
// pushed, which the platform attributes to an authenticated user exactly
// like a human operator. That ambiguity is resolved upstream by the echo
// guard, not here.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/bus"
)

const (
	sendAttempts   = 3
	initialBackoff = 250 * time.Millisecond
)

// Channel talks to the mirror platform's message API.
type Channel struct {
	baseURL   string
	accountID string
	token     string
	client    *http.Client
}

// New creates a mirror channel. Token comes from env, never from config
// files.
func New(baseURL, accountID, token string, timeout time.Duration) (*Channel, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("mirror base url is required")
	}
	return &Channel{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		token:     token,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Channel) Name() string { return "mirror" }

func (c *Channel) Start(context.Context) error { return nil }
func (c *Channel) Stop(context.Context) error  { return nil }

type createMessageRequest struct {
	CustomerID string `json:"customer_id"`
	Content    string `json:"content"`
	SenderName string `json:"sender_name,omitempty"`
}

// Send creates a message in the mirrored conversation, retrying transient
// failures with exponential backoff. After the attempts are exhausted the
// delivery outcome is ambiguous; the error says so and the caller must not
// resend automatically.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	body, err := json.Marshal(createMessageRequest{
		CustomerID: msg.CustomerID,
		Content:    msg.Content,
		SenderName: msg.SenderName,
	})
	if err != nil {
		return fmt.Errorf("marshal mirror message: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/accounts/%s/messages", c.baseURL, c.accountID)

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build mirror request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			slog.Warn("mirror send failed", "attempt", attempt, "error", err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("mirror returned %d", resp.StatusCode)
			slog.Warn("mirror send rejected, retrying", "attempt", attempt, "status", resp.StatusCode)
		default:
			return fmt.Errorf("mirror rejected message: status %d", resp.StatusCode)
		}
	}
	return fmt.Errorf("mirror send exhausted %d attempts (delivery ambiguous, do not resend): %w", sendAttempts, lastErr)
}

// webhookPayload is the mirror's message-created callback shape.
type webhookPayload struct {
	Event      string `json:"event"`
	Content    string `json:"content"`
	Private    bool   `json:"private"`
	Sender     sender `json:"sender"`
	Customer   peer   `json:"customer"`
	CreatedAt  int64  `json:"created_at"`
	SenderType string `json:"message_type"` // "outgoing" (agent side) or "incoming"
}

type sender struct {
	Name string `json:"name"`
	Type string `json:"type"` // "user" for both humans and API-created messages
}

type peer struct {
	Phone string `json:"phone"`
}

// ParseWebhook decodes a mirror webhook delivery into a normalized event.
// Returns (event, false, nil) for deliveries that carry nothing for the
// router: non-message events, incoming copies of customer messages the
// bridge already delivered, and private notes.
func ParseWebhook(body []byte) (bus.InboundEvent, bool, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return bus.InboundEvent{}, false, fmt.Errorf("%w: decode mirror webhook: %v", bus.ErrValidation, err)
	}

	if p.Event != "message_created" || p.SenderType != "outgoing" || p.Private {
		return bus.InboundEvent{}, false, nil
	}

	customerID, err := bus.NormalizeCustomerID(p.Customer.Phone)
	if err != nil {
		return bus.InboundEvent{}, false, err
	}

	ev := bus.InboundEvent{
		CustomerID: customerID,
		Content:    p.Content,
		Source:     bus.SourceMirror,
		Kind:       bus.KindText,
		SenderName: p.Sender.Name,
		FromHuman:  p.Sender.Type == "user",
		Timestamp:  time.Unix(p.CreatedAt, 0).UTC(),
	}
	if p.CreatedAt == 0 {
		ev.Timestamp = time.Now().UTC()
	}
	if strings.HasPrefix(strings.TrimSpace(p.Content), "/") {
		ev.Kind = bus.KindCommand
	}
	if err := ev.Validate(); err != nil {
		return bus.InboundEvent{}, false, err
	}
	return ev, true, nil
}
