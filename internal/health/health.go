// Package health provides cached, periodically refreshed health flags
// for the service's dependencies. Probes run in the background; the
// HTTP handler only ever reads an atomic flag.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger can be implemented by components to expose a specialized
// health check. HealthPing must return nil when the component is
// healthy.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// Checker is implemented by component-level checkers (store, index,
// embedder) and by the service aggregator.
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ComponentChecker probes one dependency on a fixed cadence. Every
// checker starts unhealthy until its first successful probe.
type ComponentChecker struct {
	name         string
	probe        func(ctx context.Context) error
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

// NewComponentChecker builds a checker around a probe function.
func NewComponentChecker(name string, log zerolog.Logger, probeTimeout time.Duration, probe func(ctx context.Context) error) *ComponentChecker {
	hc := &ComponentChecker{name: name, probe: probe, log: log, probeTimeout: probeTimeout}
	hc.healthy.Store(0)
	return hc
}

// NewPingChecker builds a checker for a component that implements
// Pinger.
func NewPingChecker(name string, p Pinger, log zerolog.Logger, probeTimeout time.Duration) *ComponentChecker {
	return NewComponentChecker(name, log, probeTimeout, p.HealthPing)
}

func (hc *ComponentChecker) Name() string    { return hc.name }
func (hc *ComponentChecker) IsHealthy() bool { return hc.healthy.Load() == 1 }

// Start begins periodic probing until ctx is canceled.
func (hc *ComponentChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		to := hc.probeTimeout
		if to <= 0 {
			to = 2 * time.Second
		}
		checkCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()

		if err := hc.probe(checkCtx); err != nil {
			hc.healthy.Store(0)
			hc.log.Error().Str("checker", hc.name).Err(err).Msg("health check failed")
			return
		}
		hc.healthy.Store(1)
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// ServiceHealthChecker aggregates component checkers into a single
// service health flag.
type ServiceHealthChecker struct {
	healthy atomic.Int32
	deps    []Checker
	log     zerolog.Logger
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...Checker) *ServiceHealthChecker {
	h := &ServiceHealthChecker{deps: deps, log: log}
	h.healthy.Store(0)
	return h
}

// IsHealthy returns cached service health.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() == 1 }

// Start periodically evaluates dependency health and updates the
// service flag, logging transitions.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(0)
	eval := func() {
		all := int32(1)
		for _, c := range h.deps {
			if !c.IsHealthy() {
				all = 0
			}
		}
		h.healthy.Store(all)
		if all != prev {
			if all == 1 {
				h.log.Info().Msg("service health: UP")
			} else {
				h.log.Error().Msg("service health: DOWN")
			}
			prev = all
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}
