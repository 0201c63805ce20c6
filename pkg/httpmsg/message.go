// Package httpmsg implements a byte-incremental HTTP/1.1 request/response parser.
// It is fed arbitrary slices via Parse and never blocks on a reader; the caller
// (typically pkg/proxyconn) is responsible for sourcing bytes from a socket.
package httpmsg

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/appurify/go-tunnel/pkg/chunkparser"
	rherrors "github.com/appurify/go-tunnel/pkg/errors"
)

// Kind distinguishes a request parser from a response parser.
type Kind int

const (
	Request Kind = iota
	Response
)

// State is a leg of the HttpParser state machine.
type State int

const (
	Initialized State = iota
	LineRcvd
	RcvingHeaders
	HeadersComplete
	RcvingBody
	Complete
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case LineRcvd:
		return "LINE_RCVD"
	case RcvingHeaders:
		return "RCVING_HEADERS"
	case HeadersComplete:
		return "HEADERS_COMPLETE"
	case RcvingBody:
		return "RCVING_BODY"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

type bodyMode int

const (
	bodyModeContentLength bodyMode = iota
	bodyModeChunked
	bodyModeUntilClose
)

var crlf = []byte("\r\n")
var doubleCRLF = []byte("\r\n\r\n")

// Message is an incrementally-parsed HTTP/1.1 request or response.
type Message struct {
	Kind  Kind
	state State

	Raw   []byte
	carry []byte

	Method        string
	RequestTarget string
	URL           *URL
	Version       string
	StatusCode    int
	ReasonPhrase  string

	Headers *Headers
	Body    []byte

	chunker       *chunkparser.Parser
	mode          bodyMode
	contentLength int64

	err error
}

// NewRequest returns a fresh request parser.
func NewRequest() *Message {
	return &Message{Kind: Request, Headers: NewHeaders()}
}

// NewResponse returns a fresh response parser.
func NewResponse() *Message {
	return &Message{Kind: Response, Headers: NewHeaders()}
}

// State returns the parser's current state.
func (m *Message) State() State { return m.state }

// Err returns the sticky parse error, if any.
func (m *Message) Err() error { return m.err }

// Parse feeds data into the parser. Raw always grows by exactly data, in order,
// regardless of state; once Complete, no further bytes affect headers/body/state.
//
// A line is only acted on once a full CRLF-terminated line is available; a
// partial trailing line is stashed as carry and the state is left untouched
// until more bytes complete it. Note the one-line lag in the header phase: the
// very first blank line seen right after the request/status line advances only
// to RCVING_HEADERS, and only a *second* blank line advances to
// HEADERS_COMPLETE.
func (m *Message) Parse(data []byte) error {
	m.Raw = append(m.Raw, data...)
	if m.err != nil {
		return m.err
	}

	buf := append(m.carry, data...)
	m.carry = nil
	if len(buf) == 0 {
		return nil
	}

	for {
		rest, more, err := m.step(buf)
		if err != nil {
			m.err = err
			return err
		}
		if m.state == Complete {
			return nil
		}
		if !more {
			m.carry = rest
			return nil
		}
		buf = rest
	}
}

// step consumes as much of data as a single phase transition allows, returning
// the unconsumed remainder and whether the caller should loop again.
func (m *Message) step(data []byte) (rest []byte, more bool, err error) {
	if m.state >= HeadersComplete && (m.Kind == Response || m.Method == "POST") {
		if m.state == HeadersComplete {
			m.setupBodyMode()
			m.state = RcvingBody
		}
		_, done, ferr := m.feedBody(data)
		if ferr != nil {
			return nil, false, ferr
		}
		if done {
			m.state = Complete
		}
		return nil, false, nil
	}

	idx := bytes.Index(data, crlf)
	if idx < 0 {
		return data, false, nil
	}
	line := data[:idx]
	rest = data[idx+2:]

	if m.state < LineRcvd {
		if err := m.parseLine(line); err != nil {
			return rest, false, err
		}
	} else if m.state < HeadersComplete {
		if err := m.processHeaderLine(line); err != nil {
			return rest, false, err
		}
	}

	if m.state == HeadersComplete && m.Kind == Request && m.Method != "POST" && bytes.HasSuffix(m.Raw, doubleCRLF) {
		m.state = Complete
	}

	return rest, len(rest) > 0, nil
}

func (m *Message) parseLine(line []byte) error {
	s := string(line)
	if m.Kind == Request {
		parts := strings.SplitN(s, " ", 3)
		if len(parts) != 3 {
			return rherrors.NewParseError("request_line", "malformed_request_line")
		}
		m.Method = strings.ToUpper(parts[0])
		m.RequestTarget = parts[1]
		m.Version = parts[2]
		m.URL = parseRequestTarget(m.Method, parts[1])
		m.state = LineRcvd
		return nil
	}

	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return rherrors.NewParseError("status_line", "malformed_status_line")
	}
	m.Version = parts[0]
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return rherrors.NewParseError("status_line", "malformed_status_code")
	}
	m.StatusCode = code
	if len(parts) == 3 {
		m.ReasonPhrase = parts[2]
	}
	m.state = LineRcvd
	return nil
}

// processHeaderLine handles header-phase state transitions: a blank line
// advances RCVING_HEADERS -> HEADERS_COMPLETE, but only advances
// LINE_RCVD -> RCVING_HEADERS (not all the way to HEADERS_COMPLETE) the first
// time it is seen right after the request/status line.
func (m *Message) processHeaderLine(line []byte) error {
	if len(line) == 0 {
		switch m.state {
		case RcvingHeaders:
			m.state = HeadersComplete
		case LineRcvd:
			m.state = RcvingHeaders
		}
		return nil
	}
	m.state = RcvingHeaders
	return m.parseHeaderLine(line)
}

func (m *Message) parseHeaderLine(line []byte) error {
	s := string(line)
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return rherrors.NewParseError("header", "malformed_header_line")
	}
	key := strings.TrimSpace(s[:idx])
	value := strings.TrimSpace(s[idx+1:])
	if key == "" {
		return rherrors.NewParseError("header", "empty_header_name")
	}
	m.Headers.Set(key, value)
	return nil
}

func (m *Message) setupBodyMode() {
	if cl, ok := m.Headers.Get("Content-Length"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil && n >= 0 {
			m.mode = bodyModeContentLength
			m.contentLength = n
			return
		}
	}
	if te, ok := m.Headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		m.mode = bodyModeChunked
		m.chunker = chunkparser.New()
		return
	}
	m.mode = bodyModeUntilClose
}

// feedBody consumes as much of buf as the active body mode allows. The content-
// length mode never reads past the declared length; chunked and until-close
// modes always consume everything handed to them.
func (m *Message) feedBody(buf []byte) (consumed int, done bool, err error) {
	switch m.mode {
	case bodyModeContentLength:
		need := m.contentLength - int64(len(m.Body))
		take := int64(len(buf))
		if take > need {
			take = need
		}
		if take > 0 {
			m.Body = append(m.Body, buf[:take]...)
		}
		return int(take), int64(len(m.Body)) >= m.contentLength, nil

	case bodyModeChunked:
		if err := m.chunker.Parse(buf); err != nil {
			return len(buf), false, err
		}
		if m.chunker.State() == chunkparser.Complete {
			m.Body = m.chunker.Body()
			return len(buf), true, nil
		}
		return len(buf), false, nil

	default: // bodyModeUntilClose
		m.Body = append(m.Body, buf...)
		return len(buf), false, nil
	}
}
