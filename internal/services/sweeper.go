package services

import (
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically drives registry eviction. It is bound to the
// registry's lifetime and stopped explicitly at shutdown; a panicking
// sweep is logged and the loop continues.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func NewSweeper(registry *Registry, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.loop()
	slog.Info("Session sweeper started", "interval", s.interval)
}

// Stop ends the sweep loop. Safe to call more than once; shutdown
// paths overlap during signal handling.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		slog.Info("Session sweeper stopped")
	})
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Session sweep panicked", "panic", r)
		}
	}()

	if evicted := s.registry.Sweep(); evicted > 0 {
		slog.Info("Swept expired sessions", "evicted", evicted)
	}
}
