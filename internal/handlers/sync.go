package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/models"
	"github.com/spyglass-dev/spyglass/internal/syncer"
)

// SyncHandler serves the websocket endpoint for diff-capable clients and
// fans broadcaster flushes out to every connected one. Messages larger than
// the wire budget are split by the chunker before they leave the server.
type SyncHandler struct {
	budget   int
	snapshot func() models.Snapshot

	clientsMux sync.RWMutex
	clients    map[*websocket.Conn]*syncClientInfo
	writeMux   sync.Mutex
}

type syncClientInfo struct {
	ConnID      string
	ConnectedAt time.Time
}

// NewSyncHandler creates the handler. snapshot provides the current project
// collection for the initial message on connect.
func NewSyncHandler(budget int, snapshot func() models.Snapshot) *SyncHandler {
	return &SyncHandler{
		budget:   budget,
		snapshot: snapshot,
		clients:  make(map[*websocket.Conn]*syncClientInfo),
	}
}

// RegisterRoutes registers the sync routes.
func (h *SyncHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/sync", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and streams patches until the
// client goes away.
// @Summary Project sync WebSocket for diff-capable clients
// @Tags sync
// @Success 101 {string} string "Switching Protocols"
// @Router /v1/sync [get]
func (h *SyncHandler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.handleConnection(conn)
	})(c)
}

func (h *SyncHandler) handleConnection(conn *websocket.Conn) {
	connID := uuid.New().String()
	h.clientsMux.Lock()
	h.clients[conn] = &syncClientInfo{ConnID: connID, ConnectedAt: time.Now()}
	h.clientsMux.Unlock()
	logger.Infof("Sync client connected: %s from %s", connID, conn.RemoteAddr())

	defer func() {
		h.clientsMux.Lock()
		delete(h.clients, conn)
		h.clientsMux.Unlock()
		_ = conn.Close()
		logger.Infof("Sync client disconnected: %s", connID)
	}()

	// New clients start from a full snapshot; patches build on it.
	if err := h.sendToConn(conn, h.projectsPayloads(h.snapshot())); err != nil {
		logger.Warnf("Failed to send initial snapshot to %s: %v", connID, err)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// Clients only talk on the terminal socket; anything here is a
		// keepalive and needs no reply.
	}
}

// BroadcastPatch sends a delta to every connected client. The broadcaster
// already guarantees the patch fits the budget.
func (h *SyncHandler) BroadcastPatch(diff *models.ProjectDiff) error {
	raw, err := json.Marshal(models.PatchMessage{
		Type:               models.MsgTypePatch,
		UpsertProjects:     diff.UpsertProjects,
		RemoveProjectPaths: diff.RemoveProjectPaths,
	})
	if err != nil {
		return err
	}
	h.broadcast([][]byte{raw})
	return nil
}

// BroadcastProjects sends a full snapshot to every connected client,
// chunked when it exceeds the budget.
func (h *SyncHandler) BroadcastProjects(snapshot models.Snapshot) error {
	payloads := h.projectsPayloads(snapshot)
	if payloads == nil {
		return syncer.ErrBudgetTooSmall
	}
	h.broadcast(payloads)
	return nil
}

// projectsPayloads serializes a full snapshot, splitting it into chunk
// messages when the single message would exceed the budget.
func (h *SyncHandler) projectsPayloads(snapshot models.Snapshot) [][]byte {
	if snapshot == nil {
		snapshot = models.Snapshot{}
	}
	raw, err := json.Marshal(models.ProjectsMessage{Type: models.MsgTypeProjects, Projects: snapshot})
	if err != nil {
		logger.Errorf("Failed to serialize projects snapshot: %v", err)
		return nil
	}
	payloads, err := chunkedPayloads(raw, h.budget)
	if err != nil {
		logger.Errorf("Cannot chunk projects snapshot: %v", err)
		return nil
	}
	return payloads
}

// chunkedPayloads passes a message through unchanged when it fits the wire
// budget, and otherwise splits it into a sequence of chunk messages a client
// can reassemble by stream id.
func chunkedPayloads(raw []byte, budget int) ([][]byte, error) {
	if len(raw) <= budget {
		return [][]byte{raw}, nil
	}

	streamID := uuid.New().String()
	pieces, err := syncer.ChunkText(streamID, string(raw), budget)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, 0, len(pieces))
	for i, piece := range pieces {
		chunkRaw, err := json.Marshal(models.ChunkMessage{
			Type:     models.MsgTypeChunk,
			StreamID: streamID,
			Index:    i,
			Final:    i == len(pieces)-1,
			Data:     piece,
		})
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, chunkRaw)
	}
	return payloads, nil
}

func (h *SyncHandler) broadcast(payloads [][]byte) {
	h.clientsMux.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clientsMux.RUnlock()

	var dead []*websocket.Conn
	h.writeMux.Lock()
	for _, conn := range conns {
		for _, payload := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				dead = append(dead, conn)
				break
			}
		}
	}
	h.writeMux.Unlock()

	if len(dead) > 0 {
		h.clientsMux.Lock()
		for _, conn := range dead {
			if info, ok := h.clients[conn]; ok {
				logger.Debugf("Dropping sync client %s after write error", info.ConnID)
				delete(h.clients, conn)
			}
			_ = conn.Close()
		}
		h.clientsMux.Unlock()
	}
}

func (h *SyncHandler) sendToConn(conn *websocket.Conn, payloads [][]byte) error {
	h.writeMux.Lock()
	defer h.writeMux.Unlock()
	for _, payload := range payloads {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return err
		}
	}
	return nil
}

// ClientCount returns the number of connected sync clients.
func (h *SyncHandler) ClientCount() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}
