package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantonx/vodforge/internal/config"
	"github.com/mantonx/vodforge/internal/database"
	"github.com/mantonx/vodforge/internal/events"
	"github.com/mantonx/vodforge/internal/jobs"
	"github.com/mantonx/vodforge/internal/logger"
	"github.com/mantonx/vodforge/internal/pipeline"
	"github.com/mantonx/vodforge/internal/server"
	"github.com/mantonx/vodforge/internal/toolchain"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if *configPath == "" {
		if _, err := os.Stat("vodforge.yaml"); err == nil {
			*configPath = "vodforge.yaml"
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet; this is the one place we write directly.
		os.Stderr.WriteString("vodforge: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	log.Info("starting vodforge", "config", *configPath)

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	store := jobs.NewStore(db, log)
	bus := events.NewBus()

	pipe, err := pipeline.New(context.Background(), cfg.Transcoding, toolchain.ExecRunner{}, store, bus, log)
	if err != nil {
		log.Error("pipeline startup failed", "error", err)
		os.Exit(1)
	}
	pipe.Start()

	var watcher *pipeline.Watcher
	if cfg.Watcher.Enabled {
		watcher, err = pipeline.NewWatcher(cfg.Watcher, pipe, log)
		if err != nil {
			log.Error("watcher startup failed", "error", err)
			os.Exit(1)
		}
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if watcher != nil {
		watcher.Start(runCtx)
	}

	srv := server.New(cfg.Server, pipe, store, bus, log)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	// Stop taking new work first, then drain in-flight jobs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if watcher != nil {
		cancelRun()
		if err := watcher.Close(); err != nil {
			log.Warn("watcher shutdown", "error", err)
		}
	}
	if err := pipe.Shutdown(shutdownCtx); err != nil {
		log.Warn("pipeline shutdown", "error", err)
	}
	log.Info("stopped")
}
