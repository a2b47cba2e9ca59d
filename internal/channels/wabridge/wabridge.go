// Package wabridge connects to a WhatsApp-style bridge over WebSocket. The
// bridge speaks the actual messaging protocol; this channel exchanges JSON
// frames with it: inbound customer messages become normalized events, and
// Send writes an outbound message frame.
package wabridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/convogate/internal/bus"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	maxBackoff       = 30 * time.Second
)

// Channel is the customer-channel adapter. Safe for concurrent Send.
type Channel struct {
	url     string
	handler func(context.Context, bus.InboundEvent)

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// frame is the JSON envelope both directions share with the bridge.
type frame struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content,omitempty"`
	Kind      string `json:"kind,omitempty"`      // "text" (default) or "audio"
	MediaURL  string `json:"media_url,omitempty"` // audio reference for external transcription
	Timestamp int64  `json:"timestamp,omitempty"` // unix seconds
}

// New creates a bridge channel. The handler receives every inbound customer
// message; it is invoked on a fresh goroutine per frame so a slow event
// never stalls the read loop.
func New(url string, handler func(context.Context, bus.InboundEvent)) (*Channel, error) {
	if url == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	return &Channel{url: url, handler: handler}, nil
}

func (c *Channel) Name() string { return "wabridge" }

// Start connects to the bridge and begins the read loop.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting bridge channel", "url", c.url)
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// Reconnect loop keeps trying; do not fail startup.
		slog.Warn("initial bridge connection failed, will retry", "error", err)
	}
	go c.readLoop()
	return nil
}

// Stop closes the connection and stops the read loop.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping bridge channel")
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Send writes one outbound message frame to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("bridge not connected")
	}

	data, err := json.Marshal(frame{
		Type:    "message",
		To:      msg.CustomerID,
		Content: msg.Content,
	})
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send bridge message: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("bridge connected", "url", c.url)
	return nil
}

// readLoop reads frames with automatic reconnection and exponential backoff.
func (c *Channel) readLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("bridge reconnect failed", "error", err, "retry_in", backoff)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("bridge read failed, reconnecting", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("bridge sent malformed frame", "error", err)
		return
	}
	if f.Type != "message" {
		return
	}

	ev, err := Normalize(f.From, f.Content, f.Kind, f.MediaURL, f.Timestamp)
	if err != nil {
		slog.Warn("bridge event rejected", "from", f.From, "error", err)
		return
	}

	if c.handler != nil {
		go c.handler(c.ctx, ev)
	}
}

// Normalize converts raw bridge fields into a validated inbound event.
func Normalize(from, content, kind, mediaURL string, ts int64) (bus.InboundEvent, error) {
	customerID, err := bus.NormalizeCustomerID(from)
	if err != nil {
		return bus.InboundEvent{}, err
	}

	ev := bus.InboundEvent{
		CustomerID: customerID,
		Content:    content,
		Source:     bus.SourceCustomer,
		Kind:       bus.KindText,
		Timestamp:  time.Unix(ts, 0).UTC(),
	}
	if ts == 0 {
		ev.Timestamp = time.Now().UTC()
	}
	if kind == "audio" {
		ev.Kind = bus.KindAudio
		ev.Content = mediaURL
	}
	if err := ev.Validate(); err != nil {
		return bus.InboundEvent{}, err
	}
	return ev, nil
}
