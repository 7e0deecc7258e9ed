package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/agent"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/config"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/httpserver"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/livekit"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/llm"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/media"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/policy"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/store"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/stt"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	ctx := context.Background()

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		// Explicitly empty DATABASE_PATH: keep everything in memory,
		// nothing survives a restart.
		log.Println("DATABASE_PATH empty, using in-memory database")
		dbPath = ":memory:"
	}
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open database %s: %v", dbPath, err)
	}
	defer db.Close()
	if cfg.SeedDataDir != "" {
		if err := db.Seed(ctx, cfg.SeedDataDir); err != nil {
			log.Fatalf("seed from %s: %v", cfg.SeedDataDir, err)
		}
	}

	whisper := stt.NewClient(cfg.WhisperURL, cfg.RequestTimeout)
	piper := tts.NewClient(cfg.PiperURL, cfg.PiperVoice, cfg.RequestTimeout)
	ollama := llm.NewClient(cfg.OllamaURL, cfg.OllamaModel, cfg.RequestTimeout)

	machine := agent.NewMachine(db, policy.NewEngine(ollama), db, agent.Options{
		ConfidenceThreshold: &cfg.ConfidenceThreshold,
		RetryLimit:          &cfg.RetryLimit,
	})

	// Pick up sessions that were mid-survey when the last process died.
	active, err := db.ActiveSessions(ctx)
	if err != nil {
		log.Fatalf("load active sessions: %v", err)
	}
	machine.Restore(ctx, active)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go agent.NewReaper(machine, cfg.IdleTimeout, 0).Run(reaperCtx)

	gateway := media.NewGateway(machine, whisper, piper)
	minter := livekit.NewTokenMinter(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	e := httpserver.New(machine, db, minter, cfg.LiveKitURL, gateway.ServeWS,
		map[string]httpserver.HealthChecker{
			"whisper": whisper,
			"piper":   piper,
			"ollama":  ollama,
		})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	stopReaper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
