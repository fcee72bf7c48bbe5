// event loop: accept, dispatch readiness events to the worker pool,
// own the fd-indexed connection table and the close path
package engine

import (
	"log"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// Handler is the per-connection state machine driven by readiness events.
// One-shot delivery guarantees that at most one worker runs a handler at
// any moment, so handlers need no internal locking.
type Handler interface {
	// OnReadable ingests and parses; reports whether the connection
	// should stay registered.
	OnReadable() bool
	// OnWritable flushes the pending response; same contract.
	OnWritable() bool
	// OnClose releases per-connection resources. Runs once, from the
	// close path, before the fd is closed.
	OnClose()
}

// Factory builds the handler bound to a freshly accepted socket. The
// factory registers the fd with the poller itself; on error the loop
// closes the socket.
type Factory func(fd int, sa unix.Sockaddr, p *Poller) (Handler, error)

// entry boxes a handler so the fd slot can be swapped atomically
type entry struct {
	h Handler
}

// Loop multiplexes all client sockets on a single kernel event set.
type Loop struct {
	poller   *Poller
	listenFd int
	factory  Factory

	// conns is indexed by fd; slots are swapped atomically bc the accept
	// path and the close path may race on the same descriptor number
	conns []atomic.Pointer[entry]
	live  *xsync.Counter

	jobs   chan unix.EpollEvent
	closed atomic.Bool
}

// NewLoop sets up the listener, the epoll instance and the worker pool.
func NewLoop(addr [4]byte, port, backlog, workers int, factory Factory) (*Loop, error) {
	fd, err := listenSocket(addr, port, backlog)
	if err != nil {
		return nil, err
	}

	poller, err := NewPoller()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := poller.AddListener(fd); err != nil {
		poller.Close()
		unix.Close(fd)
		return nil, err
	}

	// size the conn table by the descriptor limit, same as the fd space
	rlim := unix.Rlimit{}
	unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim)

	l := &Loop{
		poller:   poller,
		listenFd: fd,
		factory:  factory,
		conns:    make([]atomic.Pointer[entry], rlim.Cur),
		live:     xsync.NewCounter(),
		jobs:     make(chan unix.EpollEvent, 1024),
	}
	l.startWorkerPool(workers)
	return l, nil
}

// Live is the number of open client connections.
func (l *Loop) Live() int64 {
	return l.live.Value()
}

// Poller exposes the shared event-loop handle connections rearm through.
func (l *Loop) Poller() *Poller {
	return l.poller
}

// Serve runs the wait loop until Shutdown.
func (l *Loop) Serve() error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := l.poller.Wait(events)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if l.closed.Load() {
				return nil
			}
			return err
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == l.listenFd {
				l.accept()
				continue
			}
			l.jobs <- ev
		}
	}
}

// accept drains the listener until EAGAIN. Each accepted socket gets a
// handler from the factory and counts toward the live total.
func (l *Loop) accept() {
	for {
		nfd, sa, err := unix.Accept4(l.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			log.Printf("accept: %v", err)
			return
		}
		if nfd >= len(l.conns) {
			unix.Close(nfd)
			continue
		}

		h, err := l.factory(nfd, sa, l.poller)
		if err != nil {
			log.Printf("conn init fd=%d: %v", nfd, err)
			unix.Close(nfd)
			continue
		}
		l.conns[nfd].Store(&entry{h: h})
		l.live.Inc()
	}
}

// CloseConn unregisters fd, closes it and frees its slot. Safe to call
// more than once per connection: only the first call does anything.
func (l *Loop) CloseConn(fd int) {
	e := l.conns[fd].Swap(nil)
	if e == nil {
		return
	}
	e.h.OnClose()
	l.poller.Remove(fd)
	unix.Close(fd)
	l.live.Dec()
}

// Shutdown stops accepting and wakes Serve up to return. Workers stay
// parked on the jobs channel; they go down with the process.
func (l *Loop) Shutdown() {
	if l.closed.Swap(true) {
		return
	}
	unix.Close(l.listenFd)
	l.poller.Close()
}
