// incremental request parser: a line sub-FSM nested inside a request FSM,
// all parsed values are zero-copy slices into the connection read buffer
package protocol

import (
	"bytes"

	"github.com/indigo-web/utils/uf"
)

// request FSM states
type parseState uint8

const (
	stateRequestLine parseState = iota
	stateHeader
	stateContent
)

const (
	maxHeaders       = 16
	maxContentLength = 1 << 30
)

// Header is one recorded request header, key and value referring
// to the read buffer.
type Header struct {
	Key, Val []byte
}

// Request holds the fields accumulated while parsing. All byte slices
// point into the read buffer and are only valid until the connection resets.
type Request struct {
	Method  []byte
	Path    []byte
	Version []byte
	Host    []byte
	Body    []byte

	ContentLength int
	KeepAlive     bool

	// Headers records every header line seen, recognized or not,
	// up to maxHeaders.
	Headers []Header
}

// Parser is the incremental request parser owned by one connection.
// It consumes the connection read buffer strictly in order: checkedIdx and
// startLine never move backwards within one request.
type Parser struct {
	state      parseState
	startLine  int
	checkedIdx int

	hbuf [maxHeaders]Header

	Req Request
}

// Reset returns the parser to its initial state for the next request.
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.startLine = 0
	p.checkedIdx = 0
	p.Req = Request{}
}

// Advance consumes buf[checkedIdx:readIdx] line by line and reports how far
// the request got. NoRequest means more bytes are needed; GetRequest means a
// complete request is in Req; anything else is terminal for this request.
func (p *Parser) Advance(buf []byte, readIdx int) Code {
	status := lineOk
	for {
		if p.state == stateContent {
			if status != lineOk {
				break
			}
		} else if status = p.parseLine(buf, readIdx); status != lineOk {
			break
		}

		line := buf[p.startLine:p.lineEnd()]
		p.startLine = p.checkedIdx

		switch p.state {
		case stateRequestLine:
			if code := p.parseRequestLine(line); code != NoRequest {
				return code
			}
		case stateHeader:
			if code := p.parseHeader(line); code != NoRequest {
				return code
			}
		case stateContent:
			if readIdx >= p.Req.ContentLength+p.checkedIdx {
				p.Req.Body = buf[p.checkedIdx : p.checkedIdx+p.Req.ContentLength]
				return GetRequest
			}
			status = lineOpen
		default:
			return InternalError
		}
	}
	if status == lineBad {
		return BadRequest
	}
	return NoRequest
}

// lineEnd is the index one past the current line's content, excluding the
// CRLF the scanner consumed. In stateContent no line was carved, so the
// range collapses to empty.
func (p *Parser) lineEnd() int {
	if p.state == stateContent {
		return p.startLine
	}
	return p.checkedIdx - 2
}

// parseRequestLine expects METHOD SP URI SP VERSION with space or tab
// as separators. Only GET and HTTP/1.1 pass, both case-insensitively.
func (p *Parser) parseRequestLine(line []byte) Code {
	sep := bytes.IndexAny(line, " \t")
	if sep == -1 {
		return BadRequest
	}
	p.Req.Method = line[:sep]
	if !bytes.EqualFold(p.Req.Method, uf.S2B("GET")) {
		return BadRequest
	}
	rest := skipWS(line[sep:])

	sep = bytes.IndexAny(rest, " \t")
	if sep == -1 {
		return BadRequest
	}
	uri := rest[:sep]
	p.Req.Version = skipWS(rest[sep:])
	if !bytes.EqualFold(p.Req.Version, uf.S2B("HTTP/1.1")) {
		return BadRequest
	}

	// absolute form: strip http://host[:port] down to the path
	if len(uri) >= 7 && bytes.EqualFold(uri[:7], uf.S2B("http://")) {
		uri = uri[7:]
		slash := bytes.IndexByte(uri, '/')
		if slash == -1 {
			return BadRequest
		}
		uri = uri[slash:]
	}
	if len(uri) == 0 || uri[0] != '/' {
		return BadRequest
	}
	p.Req.Path = uri

	p.state = stateHeader
	return NoRequest
}

// parseHeader handles one header line. An empty line ends the header
// section: the request is complete unless a body is announced.
func (p *Parser) parseHeader(line []byte) Code {
	if len(line) == 0 {
		if p.Req.ContentLength != 0 {
			p.state = stateContent
			return NoRequest
		}
		return GetRequest
	}

	p.record(line)

	if val, ok := cutFoldPrefix(line, "Connection:"); ok {
		if bytes.EqualFold(val, uf.S2B("keep-alive")) {
			p.Req.KeepAlive = true
		}
	} else if val, ok := cutFoldPrefix(line, "Content-Length:"); ok {
		n, ok := parseDecimal(val)
		if !ok {
			return BadRequest
		}
		p.Req.ContentLength = n
	} else if val, ok := cutFoldPrefix(line, "Host:"); ok {
		p.Req.Host = val
	}
	return NoRequest
}

// record keeps the header in the bounded table, split at the first colon.
func (p *Parser) record(line []byte) {
	if len(p.Req.Headers) >= maxHeaders {
		return
	}
	if p.Req.Headers == nil {
		p.Req.Headers = p.hbuf[:0]
	}
	key, val, found := bytes.Cut(line, uf.S2B(":"))
	if !found {
		val = nil
	}
	p.Req.Headers = append(p.Req.Headers, Header{Key: key, Val: skipWS(val)})
}

// cutFoldPrefix matches a case-insensitive header name prefix and returns
// the value with leading whitespace skipped.
func cutFoldPrefix(line []byte, prefix string) ([]byte, bool) {
	if len(line) < len(prefix) || !bytes.EqualFold(line[:len(prefix)], uf.S2B(prefix)) {
		return nil, false
	}
	return skipWS(line[len(prefix):]), true
}

func skipWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}

// parseDecimal parses a bounded non-negative decimal. Anything else,
// including an empty value, is rejected rather than silently read as zero.
func parseDecimal(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > maxContentLength {
			return 0, false
		}
	}
	return n, true
}
