package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/models"
)

// EventsHandler streams full project snapshots to legacy clients over
// Server-Sent Events. Legacy clients do not understand patches: they get
// the whole collection on every flush, plus heartbeats to keep proxies from
// closing the stream.
type EventsHandler struct {
	snapshot  func() models.Snapshot
	startTime time.Time

	clientsMux         sync.RWMutex
	clients            map[string]chan []byte
	clientConnectTimes map[string]time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

type heartbeatPayload struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
}

// NewEventsHandler creates the SSE handler.
func NewEventsHandler(snapshot func() models.Snapshot) *EventsHandler {
	return &EventsHandler{
		snapshot:           snapshot,
		startTime:          time.Now(),
		clients:            make(map[string]chan []byte),
		clientConnectTimes: make(map[string]time.Time),
		stopped:            make(chan struct{}),
	}
}

// RegisterRoutes registers the events routes.
func (h *EventsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/events", h.HandleSSE)
}

// HandleSSE streams project snapshots in Server-Sent Events format.
// @Summary Server-Sent Events endpoint for legacy project sync
// @Description Emits a full projects snapshot on connect and after every
// @Description broadcast flush, plus a heartbeat every 30 seconds.
// @Tags events
// @Produce text/event-stream
// @Router /v1/events [get]
func (h *EventsHandler) HandleSSE(c *fiber.Ctx) error {
	if ah := c.Get("Accept"); ah != "" && !strings.Contains(ah, "text/event-stream") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "This endpoint only accepts Server-Sent Events (text/event-stream)",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // disable nginx buffering

	clientID := uuid.New().String()
	ch := make(chan []byte, 64)
	h.addClient(clientID, ch)
	logger.Infof("SSE client connected: %s from %s", clientID, c.IP())

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.removeClient(clientID)

		send := func(payload []byte) bool {
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		// Initial state: heartbeat, then the current snapshot.
		if !send(h.makeHeartbeat()) {
			return
		}
		if raw := marshalProjects(h.snapshot()); raw != nil && !send(raw) {
			return
		}

		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()

		for {
			select {
			case payload, ok := <-ch:
				if !ok || !send(payload) {
					return
				}
			case <-tick.C:
				if !send(h.makeHeartbeat()) {
					return
				}
			case <-h.stopped:
				return
			}
		}
	}))

	return nil
}

// BroadcastProjects queues a full snapshot for every connected legacy
// client. Clients that cannot keep up are dropped, unless they connected
// within the last two seconds and are still replaying initial state.
func (h *EventsHandler) BroadcastProjects(snapshot models.Snapshot) {
	raw := marshalProjects(snapshot)
	if raw == nil {
		return
	}

	h.clientsMux.RLock()
	var stale []string
	for clientID, ch := range h.clients {
		select {
		case ch <- raw:
		default:
			connectedAt, ok := h.clientConnectTimes[clientID]
			if ok && time.Since(connectedAt) < 2*time.Second {
				logger.Debugf("SSE client %s in connect grace period, keeping", clientID)
				continue
			}
			stale = append(stale, clientID)
		}
	}
	h.clientsMux.RUnlock()

	for _, clientID := range stale {
		logger.Debugf("Dropping slow SSE client %s", clientID)
		h.removeClient(clientID)
	}
}

// Stop disconnects all SSE clients.
func (h *EventsHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopped) })

	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	for clientID, ch := range h.clients {
		close(ch)
		delete(h.clients, clientID)
		delete(h.clientConnectTimes, clientID)
	}
}

func (h *EventsHandler) addClient(id string, ch chan []byte) {
	h.clientsMux.Lock()
	h.clients[id] = ch
	h.clientConnectTimes[id] = time.Now()
	h.clientsMux.Unlock()
}

func (h *EventsHandler) removeClient(id string) {
	h.clientsMux.Lock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
	delete(h.clientConnectTimes, id)
	h.clientsMux.Unlock()
}

func (h *EventsHandler) makeHeartbeat() []byte {
	raw, _ := json.Marshal(heartbeatPayload{
		Type:      models.MsgTypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
		Uptime:    time.Since(h.startTime).Milliseconds(),
	})
	return raw
}

func marshalProjects(snapshot models.Snapshot) []byte {
	if snapshot == nil {
		snapshot = models.Snapshot{}
	}
	raw, err := json.Marshal(models.ProjectsMessage{Type: models.MsgTypeProjects, Projects: snapshot})
	if err != nil {
		logger.Errorf("Failed to serialize projects snapshot: %v", err)
		return nil
	}
	return raw
}
