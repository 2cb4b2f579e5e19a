package terminal

// Cursor tracks how much of one stream a single connection has already
// received. The transport layer feeds it the sequence range of every frame
// it wants to deliver and acts on the verdict: deliver, drop a duplicate,
// trim an overlap, or replay a gap first.
//
// Invariant: once a cursor has accepted data, its position never decreases.
// The only sanctioned rebase is ResetAt, called when the connection is handed
// a fresh snapshot.

// Action is the tracker's verdict for one frame.
type Action int

const (
	// ActionDeliver means the frame is contiguous with the cursor; send it
	// whole.
	ActionDeliver Action = iota
	// ActionDrop means the frame is entirely at or below the cursor; a
	// duplicate from replay overlap, discard it.
	ActionDrop
	// ActionTrim means the frame's tail is new; send only the bytes from
	// Decision.TrimFrom onward.
	ActionTrim
	// ActionReplay means there is a gap between the cursor and the frame;
	// replay Decision.ReplayFrom up to Decision.ReplayTo before the frame.
	ActionReplay
)

// Decision carries the verdict plus the ranges it refers to.
type Decision struct {
	Action     Action
	TrimFrom   uint64 // first new sequence, for ActionTrim
	ReplayFrom uint64 // start of the missing range, for ActionReplay
	ReplayTo   uint64 // end of the missing range (the frame's start)
}

// Cursor is per connection per stream; it is owned by one handler goroutine
// and needs no locking of its own.
type Cursor struct {
	lastSeq       uint64
	awaitingFresh bool
}

// NewCursor creates a cursor positioned at the base sequence of the snapshot
// the connection was just sent.
func NewCursor(base uint64) *Cursor {
	return &Cursor{lastSeq: base}
}

// LastSeq returns the cursor position: everything below it has been
// delivered.
func (c *Cursor) LastSeq() uint64 {
	return c.lastSeq
}

// AwaitingFresh reports whether the cursor gave up on replay and is waiting
// for a fresh snapshot to rebase on.
func (c *Cursor) AwaitingFresh() bool {
	return c.awaitingFresh
}

// Track judges a frame covering [start, end). It advances the cursor for
// delivered and trimmed frames; for gaps the caller must complete the replay
// (or call MarkAwaitingFresh) and then advance via Advance.
func (c *Cursor) Track(start, end uint64) Decision {
	if c.awaitingFresh {
		return Decision{Action: ActionDrop}
	}
	if end <= c.lastSeq {
		return Decision{Action: ActionDrop}
	}
	if start > c.lastSeq {
		return Decision{
			Action:     ActionReplay,
			ReplayFrom: c.lastSeq,
			ReplayTo:   start,
		}
	}
	if start < c.lastSeq {
		from := c.lastSeq
		c.lastSeq = end
		return Decision{Action: ActionTrim, TrimFrom: from}
	}
	c.lastSeq = end
	return Decision{Action: ActionDeliver}
}

// Advance moves the cursor forward after the caller delivered bytes through
// seq itself (replayed ranges included). A seq behind the cursor is ignored,
// keeping lastSeq monotonic.
func (c *Cursor) Advance(seq uint64) {
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
}

// MarkAwaitingFresh records that replay failed (range evicted) and the
// connection needs a fresh snapshot. Until ResetAt is called, every frame is
// dropped.
func (c *Cursor) MarkAwaitingFresh() {
	c.awaitingFresh = true
}

// ResetAt rebases the cursor on a fresh snapshot taken at base. This is the
// only operation allowed to move the cursor backwards.
func (c *Cursor) ResetAt(base uint64) {
	c.lastSeq = base
	c.awaitingFresh = false
}
