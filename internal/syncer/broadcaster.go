package syncer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/models"
)

// Transport is where a broadcaster's flushes go. Implementations fan the
// messages out to whatever clients are attached to the scope.
type Transport interface {
	// SendPatch delivers a delta to diff-capable clients.
	SendPatch(diff *models.ProjectDiff) error
	// SendProjects delivers a full snapshot to all clients. Used when a
	// patch would exceed the wire byte budget.
	SendProjects(snapshot models.Snapshot) error
	// SendLegacyProjects delivers the full-snapshot companion message that
	// legacy clients rely on. Sent alongside every patch.
	SendLegacyProjects(snapshot models.Snapshot) error
}

// Broadcaster rate-limits outgoing project updates for one broadcast scope
// using a trailing-edge debounce window. The first publish in a quiet period
// flushes immediately and opens a window; further publishes inside the window
// overwrite a single pending slot, flushed when the window expires. A burst
// therefore produces at most two flushes per window: one leading, one
// trailing.
//
// Each scope owns its broadcaster outright — the retained snapshot, the
// timer and the pending slot are never shared across scopes.
type Broadcaster struct {
	mu        sync.Mutex
	transport Transport
	window    time.Duration
	budget    int

	timer      *time.Timer
	pending    models.Snapshot
	hasPending bool
	last       models.Snapshot
	closed     bool
}

// NewBroadcaster creates a broadcaster for one scope. A window of zero
// disables coalescing: every Publish flushes synchronously. budget is the
// maximum serialized size of a patch message before the broadcaster falls
// back to a full snapshot.
func NewBroadcaster(transport Transport, window time.Duration, budget int) *Broadcaster {
	return &Broadcaster{
		transport: transport,
		window:    window,
		budget:    budget,
	}
}

// Publish hands the broadcaster a new whole snapshot. Outside a window it
// flushes immediately and opens one; inside a window it records the snapshot
// as the pending trailing value, overwriting any earlier pending value —
// only the latest matters.
func (b *Broadcaster) Publish(next models.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.window <= 0 {
		b.flushLocked(next)
		return
	}
	if b.timer != nil {
		b.pending = next
		b.hasPending = true
		return
	}
	b.flushLocked(next)
	b.timer = time.AfterFunc(b.window, b.windowExpired)
}

// windowExpired runs in the timer goroutine. It flushes the trailing value
// and re-opens the window, or returns the broadcaster to idle when nothing
// arrived during the window.
func (b *Broadcaster) windowExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if !b.hasPending {
		b.timer = nil
		return
	}
	next := b.pending
	b.pending = nil
	b.hasPending = false
	b.flushLocked(next)
	b.timer.Reset(b.window)
}

// flushLocked diffs next against the retained snapshot and sends the result.
// An empty diff sends nothing but still advances the retained snapshot, so a
// value that returns to the last-flushed state produces no echo while the
// baseline stays current. A patch over budget degrades to a full snapshot
// and suppresses the legacy companion for that flush.
//
// On a transport error the retained snapshot is left untouched: the next
// successful flush then carries the missed delta.
func (b *Broadcaster) flushLocked(next models.Snapshot) {
	diff := DiffSnapshots(b.last, next)
	if diff.Empty() {
		b.last = next
		return
	}

	raw, err := json.Marshal(models.PatchMessage{
		Type:               models.MsgTypePatch,
		UpsertProjects:     diff.UpsertProjects,
		RemoveProjectPaths: diff.RemoveProjectPaths,
	})
	if err != nil {
		logger.Errorf("Failed to serialize project patch: %v", err)
		return
	}

	if len(raw) > b.budget {
		logger.Debugf("Patch of %d bytes exceeds budget %d, sending full snapshot", len(raw), b.budget)
		if err := b.transport.SendProjects(next); err != nil {
			logger.Warnf("Failed to send full snapshot: %v", err)
			return
		}
		b.last = next
		return
	}

	if err := b.transport.SendPatch(diff); err != nil {
		logger.Warnf("Failed to send project patch: %v", err)
		return
	}
	if err := b.transport.SendLegacyProjects(next); err != nil {
		logger.Warnf("Failed to send legacy snapshot: %v", err)
	}
	b.last = next
}

// Shutdown cancels any pending window and drops the trailing value without
// flushing. Safe to call from outside the timer callback; no timer is left
// running afterwards.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
	b.hasPending = false
}
