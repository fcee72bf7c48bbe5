// response builder: formats the status line and headers into the fixed
// per-connection write buffer with plain copies, no fmt on the hot path
package protocol

import "github.com/indigo-web/utils/uf"

// canned bodies for error responses
const (
	badRequestForm = "Your request has bad syntax or is inherently impossible to satisfy.\n"
	forbiddenForm  = "You do not have permission to get file from this server.\n"
	notFoundForm   = "The requested file was not found on this server.\n"
	internalForm   = "There was an unusual problem serving the requested file.\n"
)

// lookup table for status lines
// flat list instead of map bc the code set is fixed
var statusTable = [501][]byte{
	200: []byte("200 OK"),
	400: []byte("400 Bad Request"),
	403: []byte("403 Forbidden"),
	404: []byte("404 Not Found"),
	500: []byte("500 Internal Error"),
}

// for fast access
var (
	proto         = []byte("HTTP/1.1 ")
	crlf          = []byte("\r\n")
	contentLenKey = []byte("Content-Length: ")
	contentType   = []byte("Content-Type:text/html\r\n")
	connKeepAlive = []byte("Connection: keep-alive\r\n")
	connClose     = []byte("Connection: close\r\n")
)

// IntToBuf copies the decimal form of n into buf with zero allocations.
// n is uint bc /10 and %10 are cheaper on unsigned operands.
func IntToBuf(buf []byte, n uint) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n%10) + '0'
		n /= 10
	}
	return copy(buf, tmp[i:])
}

// response accumulates into the write buffer, reserving one trailing byte.
type response struct {
	buf []byte
	n   int
}

// add appends the parts if they fit, advancing the cursor.
// A part that would not fit fails the whole response build.
func (r *response) add(parts ...[]byte) bool {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total > len(r.buf)-1-r.n {
		return false
	}
	for _, p := range parts {
		r.n += copy(r.buf[r.n:], p)
	}
	return true
}

func (r *response) addStatusLine(status int) bool {
	return r.add(proto, statusTable[status], crlf)
}

func (r *response) addContentLength(length int) bool {
	var num [20]byte
	w := IntToBuf(num[:], uint(length))
	return r.add(contentLenKey, num[:w], crlf)
}

func (r *response) addLinger(keepAlive bool) bool {
	if keepAlive {
		return r.add(connKeepAlive)
	}
	return r.add(connClose)
}

// statusOf maps a pipeline code to its status and canned body.
// FileRequest has no canned body: the mapped file is the body.
func statusOf(code Code) (int, string) {
	switch code {
	case FileRequest:
		return 200, ""
	case BadRequest:
		return 400, badRequestForm
	case ForbiddenRequest:
		return 403, forbiddenForm
	case NoResource:
		return 404, notFoundForm
	case InternalError:
		return 500, internalForm
	}
	return 0, ""
}

// BuildResponse assembles the full response header for code into dst:
// status line, Content-Length, Content-Type, Connection, blank line, and
// for error responses the canned body. It reports the bytes written,
// whether a mapped file segment must follow, and whether everything fit.
func BuildResponse(code Code, keepAlive bool, fileSize int, dst []byte) (n int, withFile, ok bool) {
	status, form := statusOf(code)
	if status == 0 {
		return 0, false, false
	}

	length := fileSize
	if code != FileRequest {
		length = len(form)
	}

	r := response{buf: dst}
	ok = r.addStatusLine(status) &&
		r.addContentLength(length) &&
		r.add(contentType) &&
		r.addLinger(keepAlive) &&
		r.add(crlf)
	if ok && code != FileRequest {
		ok = r.add(uf.S2B(form))
	}
	if !ok {
		return 0, false, false
	}
	return r.n, code == FileRequest, true
}
