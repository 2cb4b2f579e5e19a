package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/recovery"
)

// Event is one fan-out delivery to session subscribers: a range of cleaned
// output bytes, a count of control signals stripped from them, or both.
// End - Start always equals len(Data).
type Event struct {
	Start   uint64
	End     uint64
	Data    []byte
	Signals int
}

// Options configures a new session.
type Options struct {
	ID          string
	Kind        StreamKind
	Command     []string // argv of the process to run in the PTY
	WorkDir     string
	BufferBytes int
	Cols        uint16
	Rows        uint16
}

// Session is one live PTY mirrored to any number of subscribers. Output
// flows read loop → scanner → replay buffer + emulator → fan-out; each
// subscriber keeps its own delivery cursor, so a slow subscriber only loses
// fan-out events it can recover through replay.
type Session struct {
	ID        string
	Kind      StreamKind
	CreatedAt time.Time

	mu             sync.Mutex
	ptmx           *os.File
	cmd            *exec.Cmd
	argv           []string
	workDir        string
	cols           uint16
	rows           uint16
	lastAccess     time.Time
	lastRecreation time.Time
	closed         bool

	scanner *Scanner
	emu     *Emulator
	buffer  *ReplayBuffer

	subMu sync.RWMutex
	subs  map[string]chan Event
}

// StartSession spawns the process in a PTY and begins mirroring its output.
func StartSession(opts Options) (*Session, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("session %s: empty command", opts.ID)
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}

	cmd := buildCommand(opts)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, fmt.Errorf("start pty for session %s: %w", opts.ID, err)
	}

	s := &Session{
		ID:         opts.ID,
		Kind:       opts.Kind,
		CreatedAt:  time.Now(),
		ptmx:       ptmx,
		cmd:        cmd,
		argv:       opts.Command,
		workDir:    opts.WorkDir,
		cols:       opts.Cols,
		rows:       opts.Rows,
		lastAccess: time.Now(),
		scanner:    NewScanner(),
		emu:        NewEmulator(int(opts.Cols), int(opts.Rows)),
		buffer:     NewReplayBuffer(opts.BufferBytes),
		subs:       make(map[string]chan Event),
	}

	recovery.SafeGo("pty-read-"+s.ID, s.readLoop)
	logger.Infof("Started %s session %s in %s", s.Kind, s.ID, opts.WorkDir)
	return s, nil
}

func buildCommand(opts Options) *exec.Cmd {
	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("SPYGLASS_SESSION=%s", opts.ID),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	return cmd
}

func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		s.mu.Lock()
		ptmx := s.ptmx
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		n, err := ptmx.Read(buf)
		if n > 0 {
			s.ingest(buf[:n])
		}
		if err != nil {
			if !s.handleReadError(err) {
				return
			}
		}
	}
}

// ingest runs the scanner over one read, records the cleaned bytes and fans
// the event out. Only the read loop calls it, so buffer sequences are
// contiguous by construction.
func (s *Session) ingest(raw []byte) {
	cleaned, signals := s.scanner.Scan(raw, s.Kind.SignalCapable())
	if len(cleaned) == 0 && signals == 0 {
		return
	}

	start := s.buffer.End()
	end := start
	if len(cleaned) > 0 {
		end = s.buffer.Append(cleaned)
		s.emu.Write(cleaned)
	}
	s.fanout(Event{Start: start, End: end, Data: cleaned, Signals: signals})
}

func (s *Session) fanout(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; it will notice the sequence gap and
			// replay from the buffer.
			logger.Debugf("Dropping event for slow subscriber %s on session %s", id, s.ID)
		}
	}
}

// handleReadError reacts to a PTY read failure. A shell that exited is
// recreated (rate limited so a crash-looping process cannot peg the CPU);
// anything else ends the read loop. Returns true to keep reading.
func (s *Session) handleReadError(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if err != io.EOF && err.Error() != "read /dev/ptmx: input/output error" {
		s.mu.Unlock()
		logger.Errorf("PTY read error for session %s: %v", s.ID, err)
		return false
	}
	wait := time.Second - time.Since(s.lastRecreation)
	s.mu.Unlock()

	// Back off without the lock so input, resize and close are not blocked
	// behind a crash-looping process.
	if wait > 0 {
		time.Sleep(wait)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.lastRecreation = time.Now()
	logger.Infof("Process exited for session %s, recreating", s.ID)

	if s.ptmx != nil {
		_ = s.ptmx.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}

	cmd := buildCommand(Options{ID: s.ID, Command: s.argv, WorkDir: s.workDir})
	ptmx, startErr := pty.StartWithSize(cmd, &pty.Winsize{Cols: s.cols, Rows: s.rows})
	if startErr != nil {
		logger.Errorf("Failed to recreate PTY for session %s: %v", s.ID, startErr)
		return false
	}
	s.ptmx = ptmx
	s.cmd = cmd
	return true
}

// WriteInput forwards client keystrokes to the PTY.
func (s *Session) WriteInput(data []byte) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.lastAccess = time.Now()
	closed := s.closed
	s.mu.Unlock()

	if closed || ptmx == nil {
		return fmt.Errorf("session %s is closed", s.ID)
	}
	_, err := ptmx.Write(data)
	return err
}

// Resize changes the PTY and emulator dimensions.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.cols = cols
	s.rows = rows
	s.mu.Unlock()

	s.emu.Resize(int(cols), int(rows))
	if ptmx == nil {
		return nil
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Snapshot returns the rendered terminal content together with the sequence
// it represents, for attach and replay-eviction recovery.
func (s *Session) Snapshot() (content string, baseSeq uint64, cols, rows int) {
	content = s.emu.Render()
	baseSeq = s.buffer.End()
	cols, rows = s.emu.Size()
	return content, baseSeq, cols, rows
}

// ReplayFrom exposes the session's replay buffer to delivery trackers.
func (s *Session) ReplayFrom(seq uint64) ([]byte, error) {
	return s.buffer.ReplayFrom(seq)
}

// Subscribe registers a fan-out channel. The returned cancel is idempotent
// and closes the channel.
func (s *Session) Subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, 256)
	s.subMu.Lock()
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of attached subscribers.
func (s *Session) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs)
}

// LastAccess returns the time of the last client input.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Touch refreshes the idle timestamp, for attach without input.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// Close tears the session down: process, PTY and all subscriber channels.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ptmx := s.ptmx
	cmd := s.cmd
	s.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()

	logger.Infof("Closed session %s", s.ID)
}
