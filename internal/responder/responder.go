// Package responder is the boundary to the external reply generator. The
// core never sees how replies are produced; it sends the conversation
// history and gets back text plus any structured entity data the generator
// extracted along the way.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/crm"
	"github.com/nextlevelbuilder/convogate/internal/store"
)

// ErrUnavailable: the generator is unreachable, timed out, or failed
// server-side. The router treats it as "no automated reply this turn".
var ErrUnavailable = errors.New("responder unavailable")

// Reply is one generated turn.
type Reply struct {
	Text       string
	Extraction *crm.Extraction
}

// Responder generates the automated reply for a conversation.
type Responder interface {
	GenerateReply(ctx context.Context, history []store.Message) (*Reply, error)
}

// HTTPResponder calls a reply-generation HTTP service.
type HTTPResponder struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTP creates a responder client with a bounded timeout. The timeout is
// the total budget for one generation turn.
func NewHTTP(url, token string, timeout time.Duration) (*HTTPResponder, error) {
	if url == "" {
		return nil, fmt.Errorf("responder url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResponder{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type generateRequest struct {
	Messages []turn `json:"messages"`
}

type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

func (r *HTTPResponder) GenerateReply(ctx context.Context, history []store.Message) (*Reply, error) {
	turns := make([]turn, 0, len(history))
	for _, m := range history {
		content := m.Content
		if m.Role == store.RoleCustomer && content == "" {
			continue
		}
		turns = append(turns, turn{Role: string(m.Role), Content: content})
	}

	body, err := json.Marshal(generateRequest{Messages: turns})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("responder rejected request: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return nil, fmt.Errorf("decode responder output: %w", err)
	}

	text, extraction := SplitExtraction(gr.Reply)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("responder returned empty reply")
	}
	return &Reply{Text: text, Extraction: extraction}, nil
}

// SplitExtraction separates a reply's visible text from a trailing fenced
// JSON block of extracted entity data, when the generator appended one.
// Malformed blocks are dropped rather than shown to the customer.
func SplitExtraction(reply string) (string, *crm.Extraction) {
	const fence = "```json"
	idx := strings.LastIndex(reply, fence)
	if idx < 0 {
		return strings.TrimSpace(reply), nil
	}
	rest := reply[idx+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(reply), nil
	}

	var e crm.Extraction
	if err := json.Unmarshal([]byte(rest[:end]), &e); err != nil {
		return strings.TrimSpace(reply[:idx]), nil
	}
	text := strings.TrimSpace(reply[:idx] + rest[end+3:])
	if e.Empty() {
		return text, nil
	}
	return text, &e
}
