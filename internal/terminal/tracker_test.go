package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorTrack(t *testing.T) {
	t.Run("contiguous frame is delivered and advances", func(t *testing.T) {
		c := NewCursor(100)
		d := c.Track(100, 150)
		assert.Equal(t, ActionDeliver, d.Action)
		assert.Equal(t, uint64(150), c.LastSeq())
	})

	t.Run("frame entirely behind the cursor is dropped", func(t *testing.T) {
		c := NewCursor(100)
		d := c.Track(40, 100)
		assert.Equal(t, ActionDrop, d.Action)
		assert.Equal(t, uint64(100), c.LastSeq(), "a drop never moves the cursor")
	})

	t.Run("overlapping frame is trimmed", func(t *testing.T) {
		c := NewCursor(100)
		d := c.Track(80, 150)
		assert.Equal(t, ActionTrim, d.Action)
		assert.Equal(t, uint64(100), d.TrimFrom)
		assert.Equal(t, uint64(150), c.LastSeq())
	})

	t.Run("gap asks for replay without advancing", func(t *testing.T) {
		c := NewCursor(100)
		d := c.Track(180, 220)
		assert.Equal(t, ActionReplay, d.Action)
		assert.Equal(t, uint64(100), d.ReplayFrom)
		assert.Equal(t, uint64(180), d.ReplayTo)
		assert.Equal(t, uint64(100), c.LastSeq(), "replay is completed by the caller")
	})

	t.Run("advance after replay is monotonic", func(t *testing.T) {
		c := NewCursor(100)
		c.Advance(220)
		assert.Equal(t, uint64(220), c.LastSeq())
		c.Advance(150)
		assert.Equal(t, uint64(220), c.LastSeq(), "advance never moves backwards")
	})

	t.Run("sequence of frames never regresses", func(t *testing.T) {
		c := NewCursor(0)
		c.Track(0, 10)
		c.Track(10, 30)
		c.Track(5, 20) // stale duplicate
		assert.Equal(t, uint64(30), c.LastSeq())
	})
}

func TestCursorAwaitingFresh(t *testing.T) {
	t.Run("everything is dropped until the rebase", func(t *testing.T) {
		c := NewCursor(100)
		c.MarkAwaitingFresh()
		assert.True(t, c.AwaitingFresh())

		d := c.Track(100, 200)
		assert.Equal(t, ActionDrop, d.Action)
		assert.Equal(t, uint64(100), c.LastSeq())
	})

	t.Run("reset rebases and resumes delivery", func(t *testing.T) {
		c := NewCursor(100)
		c.MarkAwaitingFresh()
		c.ResetAt(500)
		assert.False(t, c.AwaitingFresh())
		assert.Equal(t, uint64(500), c.LastSeq())

		d := c.Track(500, 600)
		assert.Equal(t, ActionDeliver, d.Action)
	})

	t.Run("reset is the only way backwards", func(t *testing.T) {
		c := NewCursor(1000)
		c.ResetAt(200)
		assert.Equal(t, uint64(200), c.LastSeq())
	})
}
