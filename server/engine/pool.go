// worker pool: parallel workers drain the jobs channel and drive the
// connection owning the ready descriptor
package engine

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// worker processes readiness events one at a time. One-shot registration
// means no other worker holds the same fd until the handler rearms it.
func (l *Loop) worker() {
	for ev := range l.jobs {
		fd := int(ev.Fd)
		e := l.conns[fd].Load()
		if e == nil {
			// closed between wait and dispatch
			continue
		}

		switch {
		case ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
			// peer hangup surfaces here, not as a zero-length read
			l.CloseConn(fd)
		case ev.Events&unix.EPOLLIN != 0:
			if !e.h.OnReadable() {
				l.CloseConn(fd)
			}
		case ev.Events&unix.EPOLLOUT != 0:
			if !e.h.OnWritable() {
				l.CloseConn(fd)
			}
		}
	}
}

// startWorkerPool launches the workers; 0 means one per CPU.
func (l *Loop) startWorkerPool(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	for i := 0; i < workers; i++ {
		go l.worker()
	}
}
