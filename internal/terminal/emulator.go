package terminal

import (
	"bytes"
	"strings"
	"sync"

	"github.com/hinshun/vt10x"
)

// Emulator wraps vt10x so attach snapshots can be rendered from the bytes a
// stream has produced so far, instead of replaying the whole history to
// every new connection.
type Emulator struct {
	mu       sync.Mutex
	terminal vt10x.Terminal
	cols     int
	rows     int
}

// NewEmulator creates an emulator with the given dimensions.
func NewEmulator(cols, rows int) *Emulator {
	return &Emulator{
		terminal: vt10x.New(vt10x.WithSize(cols, rows)),
		cols:     cols,
		rows:     rows,
	}
}

// Write feeds stream output through the emulator.
func (e *Emulator) Write(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.terminal.Write(data)
}

// Resize updates the emulated terminal dimensions.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cols = cols
	e.rows = rows
	e.terminal.Resize(cols, rows)
}

// Size returns the current emulated dimensions.
func (e *Emulator) Size() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols, e.rows
}

// Render returns the current screen contents as plain text, one line per
// row, with trailing blank rows trimmed.
func (e *Emulator) Render() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf bytes.Buffer
	cursor := e.terminal.Cursor()
	cursorVisible := e.terminal.CursorVisible()

	for row := 0; row < e.rows; row++ {
		if row > 0 {
			buf.WriteByte('\n')
		}
		for col := 0; col < e.cols; col++ {
			cell := e.terminal.Cell(col, row)
			switch {
			case cursorVisible && row == cursor.Y && col == cursor.X && (cell.Char == 0 || cell.Char == ' '):
				buf.WriteRune('█')
			case cell.Char == 0:
				buf.WriteByte(' ')
			default:
				buf.WriteRune(cell.Char)
			}
		}
	}

	lines := strings.Split(buf.String(), "\n")
	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return ""
	}
	return strings.Join(lines[:last+1], "\n")
}
