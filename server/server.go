// Package server wires the event loop, the resolver and the
// per-connection engine together.
package server

import (
	"golang.org/x/sys/unix"

	"github.com/s00inx/staticd/server/config"
	"github.com/s00inx/staticd/server/engine"
	"github.com/s00inx/staticd/server/httpconn"
	"github.com/s00inx/staticd/server/resource"
)

type Server struct {
	cfg  *config.Config
	loop *engine.Loop
}

func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := cfg.Addr4()
	if err != nil {
		return nil, err
	}

	res := resource.NewResolver(cfg.Serve.Root)
	factory := func(fd int, sa unix.Sockaddr, p *engine.Poller) (engine.Handler, error) {
		return httpconn.New(fd, sa, p, res)
	}

	loop, err := engine.NewLoop(addr, cfg.Listen.Port, cfg.Listen.Backlog, cfg.Serve.Workers, factory)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, loop: loop}, nil
}

// Run blocks serving connections until Shutdown.
func (s *Server) Run() error {
	return s.loop.Serve()
}

func (s *Server) Shutdown() {
	s.loop.Shutdown()
}

// Live is the number of currently open client connections.
func (s *Server) Live() int64 {
	return s.loop.Live()
}
