package protocol

// Parser decode states.
const (
	stateSearching = iota
	stateLength
	stateCommand
	statePayload
	stateChecksum
	stateTerminator
)

// Parser is an incremental frame decoder. It is fed one byte at a time
// from a live stream and emits a frame exactly when a complete,
// checksum-valid frame closes on that byte.
//
// Any checksum or terminator mismatch drops the in-flight frame and
// returns to the searching state. That trades one lost frame for
// guaranteed forward progress on a noisy or misaligned stream.
//
// A Parser holds at most one in-flight frame and must only be fed from
// a single goroutine.
type Parser struct {
	state    int
	buf      []byte // LEN, CMD, PAYLOAD... — the checksummed region
	length   byte
	expected int
	payload  []byte
}

// NewParser creates a parser in the searching state.
func NewParser() *Parser {
	return &Parser{
		buf:     make([]byte, 0, MaxPayloadSize+2),
		payload: make([]byte, 0, MaxPayloadSize),
	}
}

// Reset discards any in-flight frame and returns to the searching state.
func (p *Parser) Reset() {
	p.state = stateSearching
	p.buf = p.buf[:0]
	p.payload = p.payload[:0]
	p.length = 0
	p.expected = 0
}

// Feed advances the state machine by one received byte. It returns a
// decoded frame and true exactly when b completes a valid frame.
func (p *Parser) Feed(b byte) (Frame, bool) {
	switch p.state {
	case stateSearching:
		if b == StartByte {
			p.buf = p.buf[:0]
			p.state = stateLength
		}

	case stateLength:
		p.length = b
		p.buf = append(p.buf[:0], b)
		p.state = stateCommand

	case stateCommand:
		p.buf = append(p.buf, b)
		if p.length <= 1 {
			// No payload; LEN 0 is malformed and will fail the checksum.
			p.state = stateChecksum
		} else {
			p.expected = int(p.length) - 1
			p.payload = p.payload[:0]
			p.state = statePayload
		}

	case statePayload:
		p.payload = append(p.payload, b)
		if len(p.payload) >= p.expected {
			p.buf = append(p.buf, p.payload...)
			p.state = stateChecksum
		}

	case stateChecksum:
		if Checksum(p.buf) != b {
			p.state = stateSearching
			return Frame{}, false
		}
		p.state = stateTerminator

	case stateTerminator:
		p.state = stateSearching
		if b == EndByte {
			payload := make([]byte, len(p.buf)-2)
			copy(payload, p.buf[2:])
			return Frame{Cmd: p.buf[1], Payload: payload}, true
		}
	}
	return Frame{}, false
}
