package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/s00inx/staticd/server"
	"github.com/s00inx/staticd/server/config"
)

func main() {
	var (
		confPath = flag.String("config", "", "path to a JSON config file")
		addr     = flag.String("addr", "", "bind address, overrides config")
		port     = flag.Int("port", 0, "listen port, overrides config")
		root     = flag.String("root", "", "document root, overrides config")
	)
	flag.Parse()

	cfg := config.Default()
	if *confPath != "" {
		var err error
		if cfg, err = config.Load(*confPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *addr != "" {
		cfg.Listen.Addr = *addr
	}
	if *port != 0 {
		cfg.Listen.Port = *port
	}
	if *root != "" {
		cfg.Serve.Root = *root
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("shutting down, %d connections open", srv.Live())
		srv.Shutdown()
	}()

	log.Printf("serving %s on %s:%d", cfg.Serve.Root, cfg.Listen.Addr, cfg.Listen.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
