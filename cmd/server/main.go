package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/academic-manager/wa-service/internal/config"
	"github.com/academic-manager/wa-service/internal/handlers"
	"github.com/academic-manager/wa-service/internal/services"
)

func main() {
	// Initialize configuration
	cfg := config.NewConfig()

	// Initialize audit service
	audit, err := services.NewAuditService(cfg.GetDatabaseURL())
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}
	defer audit.Close()

	if cfg.GetDatabaseURL() != "" {
		log.Println("Connected to PostgreSQL, audit trail enabled")
	} else {
		log.Println("DATABASE_URL not set, audit trail disabled")
	}

	// Initialize the WhatsApp connection lifecycle
	codec := services.NewBackupCodec(cfg.GetStoreDir(), cfg.GetBackupFile())
	client := services.NewWhatsAppClient(cfg.GetStoreDir())
	cache := services.NewMessageCache()
	manager := services.NewConnectionManager(client, codec, cfg, audit, cache.Add)

	// Auth services
	tokens := services.NewSessionTokenStore(cfg.GetSessionTTL())
	otp := services.NewOTPService(manager, tokens, audit, cfg)
	messages := services.NewMessageService(manager, client, cache)

	manager.Start()
	log.Println("WhatsApp connection manager running")

	// Periodic sweep of expired challenges, tokens and rate windows
	go func() {
		ticker := time.NewTicker(cfg.GetSweepInterval())
		defer ticker.Stop()
		for range ticker.C {
			otp.Sweep()
			tokens.Sweep()
		}
	}()

	// HTTP API
	if cfg.GetAPIKey() == "" {
		log.Println("WARNING: API_KEY is empty, admin endpoints will reject all requests")
	}

	mw := handlers.NewMiddleware(tokens, cfg)
	router := handlers.NewRouter(
		handlers.NewStatusHandler(manager, otp, tokens),
		handlers.NewAuthHandler(otp, tokens, audit),
		handlers.NewMessageHandler(messages),
		handlers.NewAdminHandler(otp, manager),
		mw,
	)

	srv := &http.Server{Addr: cfg.GetHTTPAddr(), Handler: router}
	go func() {
		log.Printf("REST API listening on %s", cfg.GetHTTPAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	manager.Stop()
	log.Println("Shutdown")
}
