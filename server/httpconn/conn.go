// Package httpconn is the per-connection HTTP/1.1 engine: buffered
// non-blocking reads feed the incremental parser, a completed request is
// resolved to a memory-mapped file, and the response leaves through a
// vectored write loop. One connection is owned by exactly one worker at a
// time; the one-shot event registration enforces that.
package httpconn

import (
	"log"

	"golang.org/x/sys/unix"

	"github.com/s00inx/staticd/server/engine"
	"github.com/s00inx/staticd/server/protocol"
	"github.com/s00inx/staticd/server/resource"
)

const (
	ReadBufferSize  = 2048
	WriteBufferSize = 1024
)

// Conn is the state machine bound to one accepted socket. Buffers and
// cursors are owned by whichever worker currently holds the connection,
// so none of the fields need locking.
type Conn struct {
	fd     int
	sa     unix.Sockaddr
	poller *engine.Poller

	readBuf [ReadBufferSize]byte
	readIdx int // next free byte

	parser protocol.Parser

	resolver *resource.Resolver
	file     *resource.File

	writeBuf [WriteBufferSize]byte
	writeIdx int

	// gather vector for the response: headers segment, then optionally
	// the mapped file. Re-sliced in place as writev consumes it.
	iovArr      [2][]byte
	iov         [][]byte
	bytesSent   int
	bytesToSend int
}

// New binds an accepted socket to the event loop: address reuse on,
// registered one-shot edge-triggered with read interest, parser reset.
// The socket arrives non-blocking from accept4.
func New(fd int, sa unix.Sockaddr, p *engine.Poller, res *resource.Resolver) (*Conn, error) {
	c := &Conn{fd: fd, sa: sa, poller: p, resolver: res}
	c.reset()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, err
	}
	if err := p.Add(fd); err != nil {
		return nil, err
	}
	return c, nil
}

// reset returns every cursor and the parser to the initial state, ready
// for the next request on a kept-alive connection.
func (c *Conn) reset() {
	c.parser.Reset()
	c.readIdx = 0
	c.writeIdx = 0
	c.iovArr[0], c.iovArr[1] = nil, nil
	c.iov = nil
	c.bytesSent = 0
	c.bytesToSend = 0
}

// OnReadable is the read-side entry point: ingest, parse, and either
// rearm for more bytes or stage a response and rearm for write.
func (c *Conn) OnReadable() bool {
	if !c.ingest() {
		return false
	}

	code := c.parser.Advance(c.readBuf[:], c.readIdx)
	if code == protocol.NoRequest {
		c.poller.Rearm(c.fd, engine.Read)
		return true
	}

	if code == protocol.GetRequest {
		c.file, code = c.resolver.Resolve(c.parser.Req.Path)
	}
	if !c.prepareResponse(code) {
		return false
	}

	c.poller.Rearm(c.fd, engine.Write)
	return true
}

// ingest drains the socket into the read buffer until EAGAIN. The engine
// registers edge-triggered, so a partial drain would starve the
// connection. Peer close, hard errors and a full buffer with an
// unfinished request are all fatal here.
func (c *Conn) ingest() bool {
	if c.readIdx >= ReadBufferSize {
		return false
	}
	for {
		n, err := unix.Read(c.fd, c.readBuf[c.readIdx:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return true
			}
			if err == unix.EINTR {
				continue
			}
			return false
		}
		if n == 0 {
			// peer closed
			return false
		}
		c.readIdx += n
		if c.readIdx == ReadBufferSize {
			// the request exceeds buffer capacity
			return false
		}
	}
}

// prepareResponse fills the write buffer for code and sets up the gather
// vector. A response that does not fit the write buffer fails the
// connection.
func (c *Conn) prepareResponse(code protocol.Code) bool {
	size := 0
	if code == protocol.FileRequest {
		size = int(c.file.Size)
	}

	n, withFile, ok := protocol.BuildResponse(code, c.parser.Req.KeepAlive, size, c.writeBuf[:])
	if !ok {
		c.unmap()
		return false
	}
	c.writeIdx = n

	c.iovArr[0] = c.writeBuf[:n]
	c.iov = c.iovArr[:1]
	if withFile && len(c.file.Data()) > 0 {
		c.iovArr[1] = c.file.Data()
		c.iov = c.iovArr[:2]
	}
	c.bytesSent = 0
	c.bytesToSend = 0
	for _, seg := range c.iov {
		c.bytesToSend += len(seg)
	}
	return true
}

// OnWritable drains the gather vector with vectored writes until the
// response is flushed or the socket would block. After a partial write
// the vector is re-sliced past the delivered bytes so nothing is sent
// twice.
func (c *Conn) OnWritable() bool {
	if c.writeIdx == 0 {
		// nothing staged, go back to reading
		c.poller.Rearm(c.fd, engine.Read)
		c.reset()
		return true
	}

	for {
		n, err := unix.Writev(c.fd, c.iov)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				c.poller.Rearm(c.fd, engine.Write)
				return true
			}
			if err == unix.EINTR {
				continue
			}
			c.unmap()
			return false
		}

		c.bytesSent += n
		for n > 0 {
			if n >= len(c.iov[0]) {
				n -= len(c.iov[0])
				c.iov = c.iov[1:]
			} else {
				c.iov[0] = c.iov[0][n:]
				n = 0
			}
		}

		if c.bytesSent >= c.bytesToSend {
			c.unmap()
			keep := c.parser.Req.KeepAlive
			c.reset()
			c.poller.Rearm(c.fd, engine.Read)
			return keep
		}
	}
}

// OnClose runs once from the engine close path, before the fd is closed.
func (c *Conn) OnClose() {
	c.unmap()
	if c.writeIdx != 0 {
		log.Printf("conn fd=%d closed mid-response", c.fd)
	}
}

// unmap releases the mapped response file. Idempotent: every completion
// path after a successful resolution goes through here.
func (c *Conn) unmap() {
	if c.file != nil {
		c.file.Unmap()
		c.file = nil
	}
}
