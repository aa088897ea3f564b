package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hdsfilterd/internal/api"
	"hdsfilterd/internal/cache"
	"hdsfilterd/internal/config"
	"hdsfilterd/internal/hds"
	"hdsfilterd/internal/logger"
)

func main() {
	listenAddr := flag.String("l", ":8080", "HTTP listen address")
	logLevel := flag.String("L", "info", "Log level (error, warn, info, debug)")
	configFile := flag.String("c", "sources.json", "Path to the source config file")
	flag.Parse()

	log := logger.New(*logLevel)
	log.Infof("Starting HDS-to-FLV filter daemon...")
	log.Infof("Log level set to: %s", *logLevel)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	log.Infof("Configuration loaded: %d source(s)", len(cfg.Sources))

	client := &http.Client{Timeout: 30 * time.Second}
	frags := cache.New()
	sessionMgr := hds.NewSessionManager(cfg, client, frags, log)

	router := api.New(sessionMgr, cfg, frags, log)

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		log.Infof("Listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-ctx.Done()
	log.Infof("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionMgr.Close(5 * time.Second)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	if err := g.Wait(); err != nil {
		log.Errorf("Server error: %v", err)
		os.Exit(1)
	}
	log.Infof("Exited gracefully")
}
