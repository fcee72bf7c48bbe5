// low level epoll functional: registration modes and one-shot rearming
package engine

import "golang.org/x/sys/unix"

// Direction is the readiness interest a connection rearms itself for.
type Direction uint32

const (
	Read  Direction = unix.EPOLLIN
	Write Direction = unix.EPOLLOUT
)

// every conn fd carries edge-triggered one-shot delivery plus peer-hangup
// interest, so exactly one worker owns a connection per arming
const connEvents = unix.EPOLLET | unix.EPOLLONESHOT | unix.EPOLLRDHUP

// Poller wraps the epoll instance shared by all connections.
// Its kernel-side operations are atomic, so it is read-shared across
// workers without locking.
type Poller struct {
	epfd int
}

func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd}, nil
}

// Add registers a conn fd with read interest. The registration disarms
// after one delivery; the connection must Rearm before returning.
func (p *Poller) Add(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: uint32(Read) | connEvents,
		Fd:     int32(fd),
	})
}

// AddListener registers the listening fd level-triggered, read interest only.
func (p *Poller) AddListener(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	})
}

// Rearm re-enables one-shot delivery for fd in the given direction.
func (p *Poller) Rearm(fd int, d Direction) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: uint32(d) | connEvents,
		Fd:     int32(fd),
	})
}

// Remove drops fd from the event set.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *Poller) Wait(events []unix.EpollEvent) (int, error) {
	return unix.EpollWait(p.epfd, events, -1)
}

func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
