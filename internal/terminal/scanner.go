package terminal

// Raw terminal output from agent processes carries an out-of-band marker: a
// bare BEL byte that the agent rings when a turn completes. The same byte
// value is also a legitimate OSC terminator (titles are set with
// "\x1b]0;title\x07"), so stripping it naively would corrupt escape
// sequences. The scanner is a byte-at-a-time automaton that strips and counts
// bare BELs while passing escape sequences through verbatim.

const (
	bellByte   = 0x07
	escapeByte = 0x1b
)

// StreamKind classifies a terminal stream. Only agent streams declare
// support for the bell signal; plain shells pass through untouched.
type StreamKind string

const (
	KindShell StreamKind = "shell"
	KindAgent StreamKind = "agent"
)

// SignalCapable reports whether the control-signal feature applies to
// streams of this kind.
func (k StreamKind) SignalCapable() bool {
	return k == KindAgent
}

// Scanner holds the parser state carried across reads of a single stream.
// State must not be shared across streams: a terminator split over two reads
// of one stream is still recognized, but only because the state belongs to
// that stream alone.
type Scanner struct {
	inEscape   bool // inside an OSC sequence, awaiting BEL or ST
	pendingEsc bool // held an ESC byte, next byte decides its meaning
}

// NewScanner creates the parser state for one stream.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan processes one delivery of raw output bytes. For signal-capable
// streams it returns the bytes with bare BELs stripped plus the number of
// signals seen; escape sequences, including BEL- and ST-terminated OSC
// sequences, are preserved byte for byte. For non-capable streams the input
// passes through unmodified with a zero count, except that escape state left
// over from a capable phase is drained first so no held byte is lost.
func (s *Scanner) Scan(data []byte, signalCapable bool) (cleaned []byte, signals int) {
	if !signalCapable {
		if s.pendingEsc {
			s.pendingEsc = false
			s.inEscape = false
			out := make([]byte, 0, len(data)+1)
			out = append(out, escapeByte)
			return append(out, data...), 0
		}
		s.inEscape = false
		return data, 0
	}

	out := make([]byte, 0, len(data)+1)
	for i := 0; i < len(data); i++ {
		c := data[i]

		if s.pendingEsc {
			s.pendingEsc = false
			switch {
			case s.inEscape && c == '\\':
				// ST terminator (ESC \) closes the sequence.
				out = append(out, escapeByte, c)
				s.inEscape = false
				continue
			case !s.inEscape && c == ']':
				out = append(out, escapeByte, c)
				s.inEscape = true
				continue
			default:
				// The held ESC meant nothing we track; release it and
				// let c take the normal path below.
				out = append(out, escapeByte)
			}
		}

		switch c {
		case escapeByte:
			s.pendingEsc = true
		case bellByte:
			if s.inEscape {
				// BEL doubles as the OSC terminator; preserve it.
				out = append(out, c)
				s.inEscape = false
			} else {
				signals++
			}
		default:
			out = append(out, c)
		}
	}
	return out, signals
}
