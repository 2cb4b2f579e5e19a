package models

import "time"

// Session is one indexed agent or shell conversation. Identity is
// (Provider, SessionID); everything else is mutable metadata produced by the
// external indexer and consumed read-only here.
type Session struct {
	Provider     string    `json:"provider"`
	SessionID    string    `json:"sessionId"`
	ProjectPath  string    `json:"projectPath"`
	Title        string    `json:"title,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	CWD          string    `json:"cwd,omitempty"`
	SourceFile   string    `json:"sourceFile,omitempty"`
	Archived     bool      `json:"archived"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Equal reports field-by-field equality with another session.
func (s Session) Equal(o Session) bool {
	return s.Provider == o.Provider &&
		s.SessionID == o.SessionID &&
		s.ProjectPath == o.ProjectPath &&
		s.Title == o.Title &&
		s.Summary == o.Summary &&
		s.CWD == o.CWD &&
		s.SourceFile == o.SourceFile &&
		s.Archived == o.Archived &&
		s.MessageCount == o.MessageCount &&
		s.CreatedAt.Equal(o.CreatedAt) &&
		s.UpdatedAt.Equal(o.UpdatedAt)
}

// ProjectGroup holds the ordered sessions of one project directory.
type ProjectGroup struct {
	ProjectPath string    `json:"projectPath"`
	Color       string    `json:"color,omitempty"`
	Sessions    []Session `json:"sessions"`
}

// Equal reports structural equality: same path, same color, and the same
// sessions in the same order. A reordered session list is not equal — the
// sync layer treats reordering as an update on purpose.
func (g ProjectGroup) Equal(o ProjectGroup) bool {
	if g.ProjectPath != o.ProjectPath || g.Color != o.Color {
		return false
	}
	if len(g.Sessions) != len(o.Sessions) {
		return false
	}
	for i := range g.Sessions {
		if !g.Sessions[i].Equal(o.Sessions[i]) {
			return false
		}
	}
	return true
}

// Snapshot is the full project collection at one point in time. The sync
// layer retains exactly one snapshot per broadcast scope and replaces it
// atomically on every flush.
type Snapshot []ProjectGroup

// ProjectDiff is the upsert/remove delta between two snapshots. Both lists
// are sorted by project path so the wire order is deterministic.
type ProjectDiff struct {
	UpsertProjects     []ProjectGroup `json:"upsertProjects"`
	RemoveProjectPaths []string       `json:"removeProjectPaths"`
}

// Empty reports whether the diff carries no changes.
func (d *ProjectDiff) Empty() bool {
	return len(d.UpsertProjects) == 0 && len(d.RemoveProjectPaths) == 0
}
