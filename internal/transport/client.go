package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/pipeline"
)

// EventClient follows a hub's event feed.
type EventClient struct {
	url    string
	logger *events.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events chan pipeline.Event
	errors chan error
	done   chan struct{}
}

// NewEventClient creates a client for the hub at baseURL. http(s) URLs are
// converted to ws(s), and an empty jobID follows every job.
func NewEventClient(baseURL, jobID string, logger *events.Logger) (*EventClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path += "/events"
	if jobID != "" {
		u.RawQuery = url.Values{"job": {jobID}}.Encode()
	}

	return &EventClient{
		url:    u.String(),
		logger: logger.WithField("component", "ws_client"),
		events: make(chan pipeline.Event, 100),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}, nil
}

// URL returns the websocket URL the client dials.
func (c *EventClient) URL() string {
	return c.url
}

// Connect dials the hub and starts reading.
func (c *EventClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	c.conn = conn
	go c.readLoop(conn)

	c.logger.WithField("url", c.url).Debug("Following events")
	return nil
}

// Events is closed when the connection ends.
func (c *EventClient) Events() <-chan pipeline.Event {
	return c.events
}

// Errors reports an abnormal disconnect.
func (c *EventClient) Errors() <-chan error {
	return c.errors
}

// Close ends the connection.
func (c *EventClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn == nil {
		return nil
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *EventClient) readLoop(conn *websocket.Conn) {
	defer func() {
		close(c.events)
		close(c.errors)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure) {
					c.errors <- err
				}
			}
			return
		}

		var ev pipeline.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.WithError(err).Warn("Skipping malformed event")
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
