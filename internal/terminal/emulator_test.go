package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmulatorRender(t *testing.T) {
	t.Run("plain text lands on the screen", func(t *testing.T) {
		e := NewEmulator(40, 10)
		e.Write([]byte("hello world"))
		assert.Contains(t, e.Render(), "hello world")
	})

	t.Run("ansi colors are consumed not rendered", func(t *testing.T) {
		e := NewEmulator(40, 10)
		e.Write([]byte("\x1b[31mred text\x1b[0m"))
		out := e.Render()
		assert.Contains(t, out, "red text")
		assert.NotContains(t, out, "\x1b")
	})

	t.Run("trailing blank rows are trimmed", func(t *testing.T) {
		e := NewEmulator(40, 24)
		e.Write([]byte("line one\r\nline two"))
		out := e.Render()
		lines := strings.Split(out, "\n")
		assert.LessOrEqual(t, len(lines), 3, "blank tail rows must not be rendered")
	})
}

func TestEmulatorResize(t *testing.T) {
	e := NewEmulator(80, 24)
	e.Resize(120, 40)
	cols, rows := e.Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)
}
