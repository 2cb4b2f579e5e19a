package handlers

import (
	"github.com/spyglass-dev/spyglass/internal/models"
)

// FanoutTransport joins the two client populations behind the broadcaster:
// patches go to diff-capable websocket clients, full snapshots go to
// everyone, and the legacy companion goes only to SSE clients.
type FanoutTransport struct {
	ws  *SyncHandler
	sse *EventsHandler
}

// NewFanoutTransport wires the sync and events handlers into one transport.
func NewFanoutTransport(ws *SyncHandler, sse *EventsHandler) *FanoutTransport {
	return &FanoutTransport{ws: ws, sse: sse}
}

// SendPatch delivers a delta to diff-capable clients.
func (t *FanoutTransport) SendPatch(diff *models.ProjectDiff) error {
	return t.ws.BroadcastPatch(diff)
}

// SendProjects delivers a full snapshot to all clients. This is the
// over-budget fallback, so the legacy companion is implicit here.
func (t *FanoutTransport) SendProjects(snapshot models.Snapshot) error {
	if err := t.ws.BroadcastProjects(snapshot); err != nil {
		return err
	}
	t.sse.BroadcastProjects(snapshot)
	return nil
}

// SendLegacyProjects delivers the full-snapshot companion to legacy SSE
// clients only.
func (t *FanoutTransport) SendLegacyProjects(snapshot models.Snapshot) error {
	t.sse.BroadcastProjects(snapshot)
	return nil
}
