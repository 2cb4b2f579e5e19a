package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/models"
	"github.com/spyglass-dev/spyglass/internal/recovery"
	"github.com/spyglass-dev/spyglass/internal/services"
	"github.com/spyglass-dev/spyglass/internal/terminal"
)

// TerminalHandler serves terminal attach websockets. Each connection gets
// its own delivery cursor; the first connection on a session holds write
// access and later ones are read-only until the writer leaves.
type TerminalHandler struct {
	registry *services.Registry
	budget   int

	connsMux sync.Mutex
	conns    map[string]map[string]*termConn // sessionID -> connID -> conn
}

// readOnly is atomic: the read loop checks it on every input message while
// unregisterConn flips it during promotion.
type termConn struct {
	conn        *websocket.Conn
	connID      string
	connectedAt time.Time
	readOnly    atomic.Bool
	writeMu     sync.Mutex
}

// NewTerminalHandler creates the handler.
func NewTerminalHandler(registry *services.Registry, budget int) *TerminalHandler {
	return &TerminalHandler{
		registry: registry,
		budget:   budget,
		conns:    make(map[string]map[string]*termConn),
	}
}

// RegisterRoutes registers the terminal routes.
func (h *TerminalHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/terminal", h.HandleWebSocket)
	v1.Get("/terminal/sessions", h.ListSessions)
}

// ListSessions returns the ids of all live terminal sessions.
// @Summary List live terminal sessions
// @Tags terminal
// @Produce json
// @Router /v1/terminal/sessions [get]
func (h *TerminalHandler) ListSessions(c *fiber.Ctx) error {
	ids := h.registry.List()
	return c.JSON(fiber.Map{"sessions": ids, "count": len(ids)})
}

// HandleWebSocket attaches a client to a terminal session.
// @Summary Terminal attach WebSocket
// @Tags terminal
// @Param session query string false "Session ID" default(default)
// @Param kind query string false "Stream kind: shell or agent" default(shell)
// @Success 101 {string} string "Switching Protocols"
// @Router /v1/terminal [get]
func (h *TerminalHandler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	sessionID := c.Query("session", "default")
	kind := terminal.KindShell
	if c.Query("kind") == string(terminal.KindAgent) {
		kind = terminal.KindAgent
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.handleConnection(conn, sessionID, kind)
	})(c)
}

func (h *TerminalHandler) handleConnection(conn *websocket.Conn, sessionID string, kind terminal.StreamKind) {
	connID := uuid.New().String()

	session, err := h.registry.GetOrCreate(sessionID, kind)
	if err != nil {
		logger.Errorf("Failed to create terminal session %s: %v", sessionID, err)
		_ = conn.Close()
		return
	}
	session.Touch()

	tc := &termConn{conn: conn, connID: connID, connectedAt: time.Now()}
	h.registerConn(session.ID, tc)
	logger.Infof("Terminal connection %s attached to session %s (read-only: %t)", connID, session.ID, tc.readOnly.Load())

	defer func() {
		h.unregisterConn(session.ID, tc)
		_ = conn.Close()
	}()

	if !h.sendReadOnly(tc, tc.readOnly.Load()) {
		return
	}

	var (
		streaming bool
		cancelSub func()
	)
	defer func() {
		if cancelSub != nil {
			cancelSub()
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case models.MsgTypeReady:
			if streaming {
				continue
			}
			streaming = true

			// Subscribe before taking the snapshot: anything that lands in
			// between is a duplicate the cursor drops.
			events, cancel := session.Subscribe(connID)
			cancelSub = cancel

			cursor := terminal.NewCursor(0)
			if !h.sendSnapshot(tc, session, cursor) {
				return
			}
			recovery.SafeGo("terminal-pump-"+connID, func() {
				h.pump(tc, session, events, cursor)
			})

		case models.MsgTypeInput:
			var msg models.InputMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if tc.readOnly.Load() {
				logger.Debugf("Ignoring input from read-only connection %s", connID)
				continue
			}
			if err := session.WriteInput([]byte(msg.Data)); err != nil {
				logger.Warnf("PTY write failed for session %s: %v", session.ID, err)
				return
			}

		case models.MsgTypeResize:
			var msg models.ResizeMessage
			if err := json.Unmarshal(raw, &msg); err != nil || msg.Cols == 0 || msg.Rows == 0 {
				continue
			}
			if err := session.Resize(msg.Cols, msg.Rows); err != nil {
				logger.Warnf("Resize failed for session %s: %v", session.ID, err)
			}

		case models.MsgTypeHeartbeat:
			// keepalive only
		}
	}
}

// pump forwards session events to one connection, consulting the cursor on
// every frame so duplicates are dropped, overlaps trimmed and gaps replayed
// from the session buffer. An evicted replay range degrades to a fresh
// snapshot.
func (h *TerminalHandler) pump(tc *termConn, session *terminal.Session, events <-chan terminal.Event, cursor *terminal.Cursor) {
	for ev := range events {
		if ev.Signals > 0 {
			if !h.sendSignal(tc, ev.Signals) {
				return
			}
		}
		if len(ev.Data) == 0 {
			continue
		}

		decision := cursor.Track(ev.Start, ev.End)
		switch decision.Action {
		case terminal.ActionDrop:

		case terminal.ActionDeliver:
			if !h.sendFrame(tc, ev.End, ev.Data) {
				return
			}

		case terminal.ActionTrim:
			if !h.sendFrame(tc, ev.End, ev.Data[decision.TrimFrom-ev.Start:]) {
				return
			}

		case terminal.ActionReplay:
			replay, err := session.ReplayFrom(decision.ReplayFrom)
			if err != nil {
				if !errors.Is(err, terminal.ErrRangeEvicted) {
					logger.Warnf("Replay failed for session %s: %v", session.ID, err)
					return
				}
				cursor.MarkAwaitingFresh()
				logger.Debugf("Replay range evicted for connection %s, sending fresh snapshot", tc.connID)
				if !h.sendSnapshot(tc, session, cursor) {
					return
				}
				continue
			}
			// The replayed range runs to the buffer's end, which covers
			// this frame as well.
			end := decision.ReplayFrom + uint64(len(replay))
			if !h.sendFrame(tc, end, replay) {
				return
			}
			cursor.Advance(end)
		}
	}
}

// sendSnapshot renders the terminal, sends it and rebases the cursor on the
// snapshot's sequence.
func (h *TerminalHandler) sendSnapshot(tc *termConn, session *terminal.Session, cursor *terminal.Cursor) bool {
	content, baseSeq, cols, rows := session.Snapshot()
	raw, err := json.Marshal(models.TerminalSnapshotMessage{
		Type:    models.MsgTypeSnapshot,
		BaseSeq: baseSeq,
		Content: content,
		Cols:    cols,
		Rows:    rows,
	})
	if err != nil {
		logger.Errorf("Failed to serialize terminal snapshot: %v", err)
		return false
	}
	if !h.writePayload(tc, raw) {
		return false
	}
	cursor.ResetAt(baseSeq)
	return true
}

func (h *TerminalHandler) sendFrame(tc *termConn, endSeq uint64, data []byte) bool {
	raw, err := json.Marshal(models.FrameMessage{
		Type: models.MsgTypeFrame,
		Seq:  endSeq,
		Data: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		logger.Errorf("Failed to serialize terminal frame: %v", err)
		return false
	}
	return h.writePayload(tc, raw)
}

func (h *TerminalHandler) sendSignal(tc *termConn, count int) bool {
	raw, err := json.Marshal(models.SignalMessage{Type: models.MsgTypeSignal, Count: count})
	if err != nil {
		return false
	}
	return h.writePayload(tc, raw)
}

func (h *TerminalHandler) sendReadOnly(tc *termConn, readOnly bool) bool {
	raw, err := json.Marshal(models.ReadOnlyMessage{Type: models.MsgTypeReadOnly, Data: readOnly})
	if err != nil {
		return false
	}
	return h.writePayload(tc, raw)
}

// writePayload writes one message, splitting it into chunk messages when it
// exceeds the wire budget.
func (h *TerminalHandler) writePayload(tc *termConn, raw []byte) bool {
	payloads, err := chunkedPayloads(raw, h.budget)
	if err != nil {
		logger.Errorf("Cannot frame %d-byte terminal message: %v", len(raw), err)
		return false
	}

	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	for _, payload := range payloads {
		if err := tc.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return false
		}
	}
	return true
}

func (h *TerminalHandler) registerConn(sessionID string, tc *termConn) {
	h.connsMux.Lock()
	defer h.connsMux.Unlock()

	conns := h.conns[sessionID]
	if conns == nil {
		conns = make(map[string]*termConn)
		h.conns[sessionID] = conns
	}
	// First connection gets write access, later ones are read-only.
	readOnly := false
	for _, other := range conns {
		if !other.readOnly.Load() {
			readOnly = true
			break
		}
	}
	tc.readOnly.Store(readOnly)
	conns[tc.connID] = tc
}

// unregisterConn drops a connection and, when the writer leaves, promotes
// the oldest remaining read-only connection to write access.
func (h *TerminalHandler) unregisterConn(sessionID string, tc *termConn) {
	promoted := h.dropConn(sessionID, tc)
	if promoted != nil {
		logger.Infof("Promoted connection %s to write access on session %s", promoted.connID, sessionID)
		h.sendReadOnly(promoted, false)
	}
	logger.Infof("Terminal connection %s detached from session %s", tc.connID, sessionID)
}

// dropConn removes the connection from the session map and flips write
// access to the oldest remaining reader, returning it for notification.
func (h *TerminalHandler) dropConn(sessionID string, tc *termConn) *termConn {
	h.connsMux.Lock()
	defer h.connsMux.Unlock()

	conns := h.conns[sessionID]
	delete(conns, tc.connID)
	if len(conns) == 0 {
		delete(h.conns, sessionID)
	}

	if tc.readOnly.Load() {
		return nil
	}
	var promoted *termConn
	for _, other := range conns {
		if other.readOnly.Load() && (promoted == nil || other.connectedAt.Before(promoted.connectedAt)) {
			promoted = other
		}
	}
	if promoted != nil {
		promoted.readOnly.Store(false)
	}
	return promoted
}
