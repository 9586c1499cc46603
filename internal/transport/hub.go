// Package transport exposes the pipeline over HTTP: a websocket feed of job
// events and an endpoint for submitting jobs.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/pipeline"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	pongTimeout         = 10 * time.Second
	subscriberBuffer    = 64
	maxInboundMessage   = 512
)

// Hub broadcasts pipeline events to websocket subscribers. It implements
// pipeline.Sink.
type Hub struct {
	upgrader     websocket.Upgrader
	logger       *events.Logger
	writeTimeout time.Duration
	pingInterval time.Duration

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	conn  *websocket.Conn
	jobID string
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) wants(ev pipeline.Event) bool {
	return s.jobID == "" || s.jobID == ev.JobID
}

// NewHub creates a hub. A zero writeTimeout selects the default.
func NewHub(writeTimeout time.Duration, logger *events.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:       logger.WithField("component", "ws_hub"),
		writeTimeout: writeTimeout,
		pingInterval: defaultPingInterval,
		subs:         make(map[*subscriber]struct{}),
	}
}

// Emit sends ev to every interested subscriber without blocking. Progress is
// dropped for a subscriber that is behind; any other event that does not fit
// disconnects it.
func (h *Hub) Emit(ev pipeline.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode event")
		return
	}

	var slow []*subscriber

	h.mu.RLock()
	for s := range h.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.send <- data:
		default:
			if ev.Type != pipeline.EventProgress {
				slow = append(slow, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.WithField("job_id", ev.JobID).Warn("Disconnecting slow subscriber")
		h.remove(s)
	}
}

// ServeWS upgrades the request and subscribes the connection. The optional
// job query parameter limits the feed to one job.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	s := &subscriber{
		conn:  conn,
		jobID: r.URL.Query().Get("job"),
		send:  make(chan []byte, subscriberBuffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[s] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.WithFields(map[string]interface{}{
		"remote":      r.RemoteAddr,
		"job_filter":  s.jobID,
		"subscribers": count,
	}).Info("Subscriber connected")

	go h.writeLoop(s)
	go h.readLoop(s)
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.stop()
}

// readLoop only exists to process control frames and notice the peer leaving.
func (h *Hub) readLoop(s *subscriber) {
	defer h.remove(s)

	s.conn.SetReadLimit(maxInboundMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout + h.pingInterval))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout + h.pingInterval))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("Subscriber read error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.WithError(err).Debug("Subscriber write failed")
				s.stop()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(h.writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.stop()
				return
			}

		case <-s.done:
			deadline := time.Now().Add(h.writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
