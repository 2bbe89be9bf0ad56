package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultPort = 7777
	defaultAddr = "127.0.0.1"

	minPort = 1024
	maxPort = 65535
)

type serverConfig struct {
	Port            int
	Addr            string
	DBPath          string
	AdminListenAddr string
	CORSOrigins     []string
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Port:   defaultPort,
		Addr:   defaultAddr,
		DBPath: "",
	}
}

// ratewired config.toml key mapping to runtime settings.
type fileConfig struct {
	Port            int      `toml:"port"`
	Addr            string   `toml:"addr"`
	DBPath          string   `toml:"db_path"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// loadFileConfig overlays config.toml values onto cfg, touching only keys the
// file actually defines.
func loadFileConfig(path string, cfg *serverConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("db_path") {
		cfg.DBPath = strings.TrimSpace(raw.DBPath)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	return nil
}

// parseArgs resolves the final config: defaults, then config file, then
// explicit flags. A malformed flag or an out-of-range port is fatal.
func parseArgs(args []string) (serverConfig, error) {
	fs := flag.NewFlagSet("ratewired", flag.ContinueOnError)
	port := fs.Int("p", defaultPort, "listen port (1024..65535)")
	addr := fs.String("a", defaultAddr, "listen address")
	configPath := fs.String("config", "", "optional config.toml path")
	adminAddr := fs.String("admin", "", "optional admin HTTP listen address")
	dbPath := fs.String("db", "", "database file path")
	if err := fs.Parse(args); err != nil {
		return serverConfig{}, err
	}

	cfg := defaultServerConfig()
	if *configPath != "" {
		if err := loadFileConfig(*configPath, &cfg); err != nil {
			return serverConfig{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p":
			cfg.Port = *port
		case "a":
			cfg.Addr = strings.TrimSpace(*addr)
		case "admin":
			cfg.AdminListenAddr = strings.TrimSpace(*adminAddr)
		case "db":
			cfg.DBPath = strings.TrimSpace(*dbPath)
		}
	})

	if err := validatePort(cfg.Port); err != nil {
		return serverConfig{}, err
	}
	if cfg.Addr == "" {
		return serverConfig{}, fmt.Errorf("listen address must not be empty")
	}
	return cfg, nil
}

func validatePort(port int) error {
	if port < minPort || port > maxPort {
		return fmt.Errorf("port %d out of range %d..%d", port, minPort, maxPort)
	}
	return nil
}

func (c serverConfig) listenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}
