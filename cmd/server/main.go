package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pairsync/internal/config"
	"pairsync/internal/service"
	"pairsync/internal/transport/rest"
	"pairsync/internal/transport/ws"
)

func main() {
	log.Println("started")

	cfg := config.Load()
	log.Printf("Housekeeping: sweep every %s, idle threshold %s", cfg.SweepInterval, cfg.IdleThreshold)

	// All session state lives in memory; nothing survives a restart.
	registry := service.NewSessionRegistry()

	// Initialize WebSocket hub and sync protocol
	wsHub := ws.NewHub()
	protocol := ws.NewProtocol(registry, wsHub)
	log.Println("WebSocket hub started")

	// Housekeeper sweeps idle sessions until shutdown. It sweeps
	// through the protocol so expired sessions also lose their
	// broadcast groups.
	hkCtx, hkCancel := context.WithCancel(context.Background())
	defer hkCancel()
	housekeeper := service.NewHousekeeper(protocol, cfg.SweepInterval, cfg.IdleThreshold)
	go housekeeper.Run(hkCtx)

	// Create router with container
	container := &rest.Container{
		Registry: registry,
		WSHub:    wsHub,
		Protocol: protocol,
	}

	router := rest.NewRouter(container)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.HTTPPort)
		log.Println("Endpoints:")
		log.Println("  POST /v1/sessions")
		log.Println("  GET  /v1/sessions/{code}")
		log.Println("  GET  /v1/identities")
		log.Println("  WS   /v1/ws/sync")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe:", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	hkCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
