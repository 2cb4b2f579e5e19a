package models

// Message type constants shared by the websocket and SSE endpoints. These
// match the frontend TypeScript definitions.
const (
	// Project sync, server to client
	MsgTypePatch    = "patch"    // incremental upsert/remove delta
	MsgTypeProjects = "projects" // full snapshot (legacy clients and over-budget fallback)
	MsgTypeChunk    = "chunk"    // one piece of an oversized message

	// Terminal, server to client
	MsgTypeFrame    = "frame"     // live output bytes with their end sequence
	MsgTypeSnapshot = "snapshot"  // rendered terminal state at a base sequence
	MsgTypeSignal   = "signal"    // out-of-band turn-complete marker count
	MsgTypeReadOnly = "read-only" // whether this connection may write input

	// Terminal, client to server
	MsgTypeInput  = "input"
	MsgTypeResize = "resize"
	MsgTypeReady  = "ready"

	// Both directions
	MsgTypeHeartbeat = "heartbeat"
)

// PatchMessage carries a ProjectDiff to diff-capable clients.
type PatchMessage struct {
	Type               string         `json:"type"`
	UpsertProjects     []ProjectGroup `json:"upsertProjects"`
	RemoveProjectPaths []string       `json:"removeProjectPaths"`
}

// ProjectsMessage carries a full snapshot.
type ProjectsMessage struct {
	Type     string         `json:"type"`
	Projects []ProjectGroup `json:"projects"`
}

// ChunkMessage is one piece of a message that exceeded the wire byte budget.
// Receivers reassemble by StreamID in Index order; Final marks the last piece.
type ChunkMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
	Index    int    `json:"index"`
	Final    bool   `json:"final"`
	Data     string `json:"data"`
}

// FrameMessage carries live terminal output. Seq is the stream sequence
// after this frame's bytes, so consecutive frames satisfy
// prev.Seq + len(bytes) == next.Seq.
type FrameMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Data string `json:"data"` // base64-encoded raw bytes
}

// TerminalSnapshotMessage is the rendered terminal state sent on attach or
// when a client's replay range has been evicted.
type TerminalSnapshotMessage struct {
	Type    string `json:"type"`
	BaseSeq uint64 `json:"baseSeq"`
	Content string `json:"content"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
}

// SignalMessage reports out-of-band control signals stripped from the
// output stream since the last report.
type SignalMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ReadOnlyMessage tells a connection whether it holds write access.
type ReadOnlyMessage struct {
	Type string `json:"type"`
	Data bool   `json:"data"`
}

// InputMessage carries client keystrokes destined for the PTY.
type InputMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ResizeMessage requests new terminal dimensions.
type ResizeMessage struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}
