package service

import (
	"context"
	"log"
	"time"
)

// Sweeper removes idle sessions. Satisfied by SessionRegistry.
type Sweeper interface {
	Sweep(idleThreshold time.Duration) []string
}

// Housekeeper periodically sweeps idle sessions out of the registry so
// abandoned sessions cannot grow memory without bound.
type Housekeeper struct {
	registry      Sweeper
	interval      time.Duration
	idleThreshold time.Duration
}

// NewHousekeeper creates a housekeeper sweeping every interval, removing
// sessions idle longer than idleThreshold.
func NewHousekeeper(registry Sweeper, interval, idleThreshold time.Duration) *Housekeeper {
	return &Housekeeper{
		registry:      registry,
		interval:      interval,
		idleThreshold: idleThreshold,
	}
}

// Run ticks until ctx is cancelled. A panicking tick is logged and
// swallowed; the loop itself never dies early.
func (h *Housekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Housekeeper) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Error during session cleanup: %v", rec)
		}
	}()

	removed := h.registry.Sweep(h.idleThreshold)
	for _, code := range removed {
		log.Printf("Cleaned up expired session %s", code)
	}
}
