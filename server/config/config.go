// Package config holds the runtime settings of the server. Buffer
// geometry is deliberately not here: read/write buffer sizes and the
// filename cap are compile-time constants of their packages.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	Listen struct {
		// Addr is the IPv4 address to bind.
		Addr string
		// Port to listen on.
		Port int
		// Backlog for the listening socket.
		Backlog int
	}

	Serve struct {
		// Root is the document root every request path resolves under.
		Root string
		// Workers is the event worker count; 0 means one per CPU.
		Workers int
	}
)

type Config struct {
	Listen Listen
	Serve  Serve
}

// Default returns the baseline config. Load overlays a file on top of it.
func Default() *Config {
	return &Config{
		Listen: Listen{
			Addr:    "127.0.0.1",
			Port:    8080,
			Backlog: 128,
		},
		Serve: Serve{
			Root: "/srv",
		},
	}
}

// Load reads a JSON config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Addr4(); err != nil {
		return err
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Listen.Port)
	}
	if c.Serve.Root == "" {
		return errors.New("document root is empty")
	}
	return nil
}

// Addr4 parses the bind address into the 4-byte form the engine takes.
func (c *Config) Addr4() ([4]byte, error) {
	ip := net.ParseIP(c.Listen.Addr)
	if ip == nil || ip.To4() == nil {
		return [4]byte{}, fmt.Errorf("bad listen address %q", c.Listen.Addr)
	}
	var addr [4]byte
	copy(addr[:], ip.To4())
	return addr, nil
}
