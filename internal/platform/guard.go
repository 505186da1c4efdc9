package platform

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// GoroutineLimiter bounds concurrent holders using a buffered-channel
// semaphore.
type GoroutineLimiter struct {
	sem chan struct{}
	max int
}

// NewGoroutineLimiter creates a limiter allowing max concurrent holders.
func NewGoroutineLimiter(max int) *GoroutineLimiter {
	return &GoroutineLimiter{sem: make(chan struct{}, max), max: max}
}

// Acquire attempts to take a slot without blocking.
func (gl *GoroutineLimiter) Acquire() bool {
	select {
	case gl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (gl *GoroutineLimiter) Release() { <-gl.sem }

// Current reports slots currently held.
func (gl *GoroutineLimiter) Current() int { return len(gl.sem) }

// GuardConfig carries the static limits an IngressGuard enforces.
type GuardConfig struct {
	MaxIngressMsgsPerSec int
	MaxGoroutines        int
	MaxCPUPercent        float64
}

// IngressGuard enforces static admission limits on the dispatcher's
// ingress path: a publisher's inbound frame rate is capped with a token
// bucket, on top of the host's cgroup CPU headroom. The guard also
// builds a GoroutineLimiter from MaxGoroutines, but AllowFrame does not
// consult it. This is a deliberate
// enrichment beyond per-queue back-pressure: a single noisy publisher
// should not starve the dispatch worker away from every other service.
type IngressGuard struct {
	cfg     GuardConfig
	log     zerolog.Logger
	limiter *rate.Limiter
	goro    *GoroutineLimiter
	cpu     *CPUMonitor

	cpuOverBudget atomic.Bool
}

// NewIngressGuard builds a guard from static configuration. cpuMon may
// be nil on platforms where cgroup detection fails; in that case CPU
// admission checks are skipped rather than failing closed.
func NewIngressGuard(cfg GuardConfig, cpuMon *CPUMonitor, log zerolog.Logger) *IngressGuard {
	return &IngressGuard{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxIngressMsgsPerSec), cfg.MaxIngressMsgsPerSec*2),
		goro:    NewGoroutineLimiter(cfg.MaxGoroutines),
		cpu:     cpuMon,
	}
}

// AllowFrame reports whether one more inbound frame may be processed
// right now. A false return means the frame must be silently dropped;
// this never blocks the publisher or reports failure back to it, which
// keeps the guard outside the explicit QUEUE_FULL feedback path.
func (g *IngressGuard) AllowFrame() bool {
	if g.cpuOverBudget.Load() {
		return false
	}
	return g.limiter.Allow()
}

// SampleCPU refreshes the cached over-budget flag from the cgroup CPU
// monitor. Intended to be called periodically (e.g. once per chain
// timer tick) rather than per frame, since reading cgroup files on
// every message would itself become the bottleneck.
func (g *IngressGuard) SampleCPU() {
	if g.cpu == nil || g.cfg.MaxCPUPercent <= 0 {
		return
	}
	pct, err := g.cpu.Percent()
	if err != nil {
		return
	}
	over := pct > g.cfg.MaxCPUPercent
	g.cpuOverBudget.Store(over)
	if over {
		g.log.Warn().Float64("cpu_percent", pct).Msg("ingress guard: over CPU budget, dropping new frames")
	}
}
