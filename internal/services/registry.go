package services

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spyglass-dev/spyglass/internal/config"
	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/recovery"
	"github.com/spyglass-dev/spyglass/internal/terminal"
)

// Registry owns the live terminal sessions. Each session gets disjoint
// state: its own PTY, scanner, replay buffer and subscriber set.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*terminal.Session
	cfg      *config.Config
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry and starts its idle-session reaper.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		sessions: make(map[string]*terminal.Session),
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
	recovery.SafeGo("session-reaper", r.reapIdleSessions)
	return r
}

// GetOrCreate returns the session for id, spawning it on first use.
func (r *Registry) GetOrCreate(id string, kind terminal.StreamKind) (*terminal.Session, error) {
	id = sanitizeSessionID(id)

	r.mu.RLock()
	session, exists := r.sessions[id]
	r.mu.RUnlock()
	if exists {
		return session, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock
	if session, exists := r.sessions[id]; exists {
		return session, nil
	}

	session, err := terminal.StartSession(terminal.Options{
		ID:          id,
		Kind:        kind,
		Command:     r.commandFor(kind),
		WorkDir:     workDir(),
		BufferBytes: r.cfg.ReplayBufferBytes,
	})
	if err != nil {
		return nil, err
	}
	r.sessions[id] = session
	return session, nil
}

// Get returns an existing session, or nil.
func (r *Registry) Get(id string) *terminal.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sanitizeSessionID(id)]
}

// List returns the ids of all live sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	session, exists := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if exists {
		session.Close()
	}
}

// Shutdown closes every session and stops the reaper.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stopChan) })

	r.mu.Lock()
	sessions := make([]*terminal.Session, 0, len(r.sessions))
	for id, session := range r.sessions {
		sessions = append(sessions, session)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}

func (r *Registry) commandFor(kind terminal.StreamKind) []string {
	if kind == terminal.KindAgent {
		return strings.Fields(r.cfg.AgentCommand)
	}
	return []string{"bash", "--login"}
}

// reapIdleSessions closes sessions with no subscribers and no input for ten
// minutes.
func (r *Registry) reapIdleSessions() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.mu.RLock()
			var idle []string
			for id, session := range r.sessions {
				if session.SubscriberCount() == 0 && time.Since(session.LastAccess()) > 10*time.Minute {
					idle = append(idle, id)
				}
			}
			r.mu.RUnlock()

			for _, id := range idle {
				logger.Infof("Reaping idle session %s", id)
				r.Remove(id)
			}
		}
	}
}

func workDir() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return os.TempDir()
}

// sanitizeSessionID strips path traversal and control characters from a
// client-supplied session id.
func sanitizeSessionID(id string) string {
	id = strings.ReplaceAll(id, "..", "")
	id = strings.TrimPrefix(id, "/")
	id = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, id)
	if len(id) > 100 {
		id = id[:100]
	}
	if id == "" {
		id = "default"
	}
	return id
}

// String implements fmt.Stringer for debug logging.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("Registry(%d sessions)", len(r.sessions))
}
