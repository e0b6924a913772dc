// Package config loads the optional TOML configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Server holds the server subcommand's settings.
type Server struct {
	Listen        string
	WSListen      string
	QueueCapacity int
	GracePeriod   time.Duration
	StoreCapacity int
}

// Client holds the client subcommand's settings.
type Client struct {
	Addr string
	Name string
}

// Config is the full file layout.
type Config struct {
	Server Server
	Client Client
}

// Default returns the built-in settings used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Listen:        ":8080",
			QueueCapacity: 32,
			GracePeriod:   5 * time.Second,
			StoreCapacity: 1024,
		},
		Client: Client{
			Addr: "localhost:8080",
		},
	}
}

type fileConfig struct {
	Server fileServer `toml:"server"`
	Client fileClient `toml:"client"`
}

type fileServer struct {
	Listen        string `toml:"listen"`
	WSListen      string `toml:"ws_listen"`
	QueueCapacity int    `toml:"queue_capacity"`
	GracePeriod   string `toml:"grace_period"`
	StoreCapacity int    `toml:"store_capacity"`
}

type fileClient struct {
	Addr string `toml:"addr"`
	Name string `toml:"name"`
}

// Load reads path and layers the values it defines over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if meta.IsDefined("server", "listen") {
		cfg.Server.Listen = strings.TrimSpace(raw.Server.Listen)
	}
	if meta.IsDefined("server", "ws_listen") {
		cfg.Server.WSListen = strings.TrimSpace(raw.Server.WSListen)
	}
	if meta.IsDefined("server", "queue_capacity") {
		cfg.Server.QueueCapacity = raw.Server.QueueCapacity
	}
	if meta.IsDefined("server", "grace_period") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Server.GracePeriod))
		if err != nil {
			return Config{}, fmt.Errorf("config: parse grace_period: %w", err)
		}
		cfg.Server.GracePeriod = d
	}
	if meta.IsDefined("server", "store_capacity") {
		cfg.Server.StoreCapacity = raw.Server.StoreCapacity
	}
	if meta.IsDefined("client", "addr") {
		cfg.Client.Addr = strings.TrimSpace(raw.Client.Addr)
	}
	if meta.IsDefined("client", "name") {
		cfg.Client.Name = strings.TrimSpace(raw.Client.Name)
	}

	return cfg, nil
}
