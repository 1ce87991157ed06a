// Package notify fans turn events out to websocket subscribers of a project.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Event types.
const (
	EventTurn    = "turn"
	EventRevert  = "revert"
	EventRebuild = "rebuild"
	EventScene   = "scene"
)

// Event describes one completed (or failed) change for the client to render.
type Event struct {
	Type       string    `json:"type"`
	ProjectID  uuid.UUID `json:"project_id"`
	Operation  string    `json:"operation"`
	SceneID    uuid.UUID `json:"scene_id,omitempty"`
	Success    bool      `json:"success"`
	Summary    string    `json:"summary"`
	ErrorCode  string    `json:"error_code,omitempty"`
	MessageID  uuid.UUID `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher is what the pipeline needs from a hub.
type Publisher interface {
	Publish(Event)
}

// subscriberBuffer is how many events a slow subscriber may lag behind
// before new events to it are dropped.
const subscriberBuffer = 32

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[chan Event]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Subscribe returns a channel of the project's events and a function that
// ends the subscription and closes the channel.
func (h *Hub) Subscribe(projectID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[chan Event]struct{})
	}
	h.subs[projectID][ch] = struct{}{}
	h.mu.Unlock()
	metrics.Subscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[projectID][ch]; !ok {
				return
			}
			delete(h.subs[projectID], ch)
			if len(h.subs[projectID]) == 0 {
				delete(h.subs, projectID)
			}
			close(ch)
			metrics.Subscribers.Dec()
		})
	}
}

// Publish delivers e to every subscriber of its project without blocking.
func (h *Hub) Publish(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.ProjectID] {
		select {
		case ch <- e:
		default:
			log.WithField("project_id", e.ProjectID).Warn("Publish: subscriber is lagging, dropping event")
		}
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for project, chans := range h.subs {
		for ch := range chans {
			close(ch)
			metrics.Subscribers.Dec()
		}
		delete(h.subs, project)
	}
}

// Serve streams a project's events to conn until the peer goes away, ctx
// ends or the hub closes. It owns conn and closes it.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, projectID uuid.UUID) {
	events, cancel := h.Subscribe(projectID)
	defer cancel()

	// The reader only exists to process pongs and notice the peer closing.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
		<-gone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.WithField("project_id", projectID).Debugf("Serve: write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) subscribers(projectID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[projectID])
}
