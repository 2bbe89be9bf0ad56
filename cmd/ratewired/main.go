package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/ratewire/internal/admin"
	"github.com/danmuck/ratewire/internal/logging"
	"github.com/danmuck/ratewire/internal/server"
	"github.com/danmuck/ratewire/internal/store"
)

func main() {
	logging.ConfigureRuntime()

	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ratewired: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ratewired: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg serverConfig) error {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = store.DefaultPath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureDefaults(); err != nil {
		return err
	}

	srvCfg := server.DefaultConfig()
	srvCfg.ListenAddr = cfg.listenAddr()
	srv, err := server.New(srvCfg, st)
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.AdminListenAddr != "" {
		adm := admin.New(admin.Config{
			ListenAddr:  cfg.AdminListenAddr,
			Service:     "ratewired",
			CORSOrigins: cfg.CORSOrigins,
			Stats: func() map[string]any {
				return map[string]any{"goroutines": runtime.NumGoroutine()}
			},
		})
		go func() {
			if err := adm.Run(); err != nil {
				log.Error().Err(err).Msg("admin surface stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
