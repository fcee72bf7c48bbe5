package engine

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// canned HTTP response the test handlers emit
var testResponse = []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK")

// oneShotHandler answers one request and asks the loop to close.
type oneShotHandler struct {
	fd int
}

func (h *oneShotHandler) OnReadable() bool {
	buf := make([]byte, 1024)
	for {
		n, err := unix.Read(h.fd, buf)
		if err == unix.EAGAIN {
			break
		}
		if err != nil || n == 0 {
			return false
		}
	}
	unix.Write(h.fd, testResponse)
	return false
}

func (h *oneShotHandler) OnWritable() bool { return true }
func (h *oneShotHandler) OnClose()         {}

func dialRetry(t testing.TB, target string) net.Conn {
	t.Helper()
	for i := 0; i < 20; i++ {
		conn, err := net.DialTimeout("tcp", target, 100*time.Millisecond)
		if err == nil {
			return conn
		}
		if i == 19 {
			t.Fatalf("server did not come up on %s: %v", target, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func TestLoopServesAndCloses(t *testing.T) {
	addr := [4]byte{127, 0, 0, 1}
	port := 18471

	factory := func(fd int, sa unix.Sockaddr, p *Poller) (Handler, error) {
		if err := p.Add(fd); err != nil {
			return nil, err
		}
		return &oneShotHandler{fd: fd}, nil
	}

	l, err := NewLoop(addr, port, 16, 2, factory)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Shutdown()
	go l.Serve()

	conn := dialRetry(t, "127.0.0.1:18471")
	defer conn.Close()

	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	total := 0
	for total < len(testResponse) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			t.Fatalf("read after %d bytes: %v", total, err)
		}
		total += n
	}
	if string(buf[:total]) != string(testResponse) {
		t.Errorf("wrong response: %q", buf[:total])
	}

	// handler returned false, so the loop must close the socket
	if n, _ := conn.Read(buf); n != 0 {
		t.Errorf("expected EOF, read %d more bytes", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Live() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("live counter stuck at %d", l.Live())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// countingHandler records close calls for the idempotence check.
type countingHandler struct {
	closes int
}

func (h *countingHandler) OnReadable() bool { return true }
func (h *countingHandler) OnWritable() bool { return true }
func (h *countingHandler) OnClose()         { h.closes++ }

func TestCloseConnIdempotent(t *testing.T) {
	l, err := NewLoop([4]byte{127, 0, 0, 1}, 18472, 16, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Shutdown()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[1])

	h := &countingHandler{}
	l.conns[fds[0]].Store(&entry{h: h})
	l.live.Inc()

	l.CloseConn(fds[0])
	l.CloseConn(fds[0])

	if h.closes != 1 {
		t.Errorf("OnClose ran %d times, want 1", h.closes)
	}
	if l.Live() != 0 {
		t.Errorf("live counter at %d, want 0", l.Live())
	}
}

// keepAliveHandler echoes a response and rearms for the next request.
type keepAliveHandler struct {
	fd int
	p  *Poller
}

func (h *keepAliveHandler) OnReadable() bool {
	buf := make([]byte, 1024)
	for {
		n, err := unix.Read(h.fd, buf)
		if err == unix.EAGAIN {
			break
		}
		if err != nil || n == 0 {
			return false
		}
	}
	unix.Write(h.fd, testResponse)
	h.p.Rearm(h.fd, Read)
	return true
}

func (h *keepAliveHandler) OnWritable() bool { return true }
func (h *keepAliveHandler) OnClose()         {}

func BenchmarkLoopHTTP(b *testing.B) {
	addr := [4]byte{127, 0, 0, 1}
	port := 18473
	target := "127.0.0.1:18473"

	factory := func(fd int, sa unix.Sockaddr, p *Poller) (Handler, error) {
		if err := p.Add(fd); err != nil {
			return nil, err
		}
		return &keepAliveHandler{fd: fd, p: p}, nil
	}

	l, err := NewLoop(addr, port, 16, 0, factory)
	if err != nil {
		b.Fatal(err)
	}
	defer l.Shutdown()
	go l.Serve()

	dialRetry(b, target).Close()

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		conn, err := net.Dial("tcp", target)
		if err != nil {
			b.Errorf("dial: %v", err)
			return
		}
		defer conn.Close()

		req := []byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
		res := make([]byte, 1024)

		for pb.Next() {
			if _, err := conn.Write(req); err != nil {
				b.Errorf("write: %v", err)
				break
			}
			if _, err := conn.Read(res); err != nil {
				b.Errorf("read: %v", err)
				break
			}
		}
	})
}
