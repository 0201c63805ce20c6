// Package chunkparser decodes HTTP/1.1 chunked transfer-encoded bodies from an
// arbitrary byte-incremental feed, without ever requiring a full message in memory.
package chunkparser

import (
	"bytes"
	"strconv"
	"strings"

	rherrors "github.com/appurify/go-tunnel/pkg/errors"
)

// State is one leg of the chunk decoder's state machine.
type State int

const (
	// WaitSize is reading the hex chunk-size line up to the next CRLF.
	WaitSize State = iota
	// WaitData is accumulating the chunk's data bytes plus its trailing CRLF.
	WaitData
	// Complete means a zero-size chunk and its terminator have both been observed.
	Complete
)

func (s State) String() string {
	switch s {
	case WaitSize:
		return "WAIT_SIZE"
	case WaitData:
		return "WAIT_DATA"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

var crlf = []byte("\r\n")

// Parser is a restartable-only-by-construction chunked body decoder. Feed it bytes
// with Parse in arbitrary slices; inspect State and Body after each call.
type Parser struct {
	state State
	size  int
	chunk []byte
	body  []byte

	pending []byte // unconsumed bytes carried across Parse calls
}

// New returns a fresh chunk decoder in WAIT_SIZE.
func New() *Parser {
	return &Parser{state: WaitSize}
}

// State returns the decoder's current state.
func (p *Parser) State() State { return p.state }

// Body returns the decoded payload accumulated so far (catenation of all
// non-terminator chunk data).
func (p *Parser) Body() []byte { return p.body }

// Parse feeds data into the decoder. Bytes arriving once State() is Complete are
// not consumed; the caller must stop feeding.
func (p *Parser) Parse(data []byte) error {
	if p.state == Complete || len(data) == 0 {
		return nil
	}
	p.pending = append(p.pending, data...)

	for {
		switch p.state {
		case WaitSize:
			idx := bytes.Index(p.pending, crlf)
			if idx < 0 {
				return nil
			}
			line := p.pending[:idx]
			p.pending = p.pending[idx+2:]

			size, err := parseChunkSize(line)
			if err != nil {
				return rherrors.NewParseError("chunk_size", "malformed_chunk_size")
			}
			p.size = size
			p.chunk = p.chunk[:0]
			p.state = WaitData

		case WaitData:
			need := p.size - len(p.chunk)
			if need > 0 {
				if len(p.pending) == 0 {
					return nil
				}
				take := need
				if take > len(p.pending) {
					take = len(p.pending)
				}
				p.chunk = append(p.chunk, p.pending[:take]...)
				p.pending = p.pending[take:]
				if len(p.chunk) < p.size {
					return nil
				}
			}

			// Chunk data complete; still need its trailing CRLF before advancing.
			if len(p.pending) < 2 {
				return nil
			}
			if !bytes.Equal(p.pending[:2], crlf) {
				return rherrors.NewParseError("chunk_data", "missing_chunk_terminator")
			}
			p.pending = p.pending[2:]

			p.body = append(p.body, p.chunk...)
			wasLast := p.size == 0
			p.chunk = nil
			p.size = 0

			if wasLast {
				p.state = Complete
				return nil
			}
			p.state = WaitSize

		case Complete:
			return nil
		}
	}
}

func parseChunkSize(line []byte) (int, error) {
	s := string(line)
	if idx := strings.IndexByte(s, ';'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, rherrors.NewParseError("chunk_size", "empty_chunk_size")
	}
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil || n < 0 {
		return 0, rherrors.NewParseError("chunk_size", "invalid_chunk_size")
	}
	return int(n), nil
}
