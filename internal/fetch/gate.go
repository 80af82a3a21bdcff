package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// gate bounds concurrency and request rate for one source and owns its collector.
type gate struct {
	policy    Policy
	retry     retryPolicy
	slots     *semaphore.Weighted
	limiter   *rate.Limiter
	collector *colly.Collector
}

func (g *gate) acquire(ctx context.Context) error {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire fetch slot: %w", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.slots.Release(1)
		return fmt.Errorf("politeness wait: %w", err)
	}
	return nil
}

func (g *gate) release() {
	g.slots.Release(1)
}

// gateSet creates gates lazily, one per source.
type gateSet struct {
	mu    sync.Mutex
	gates map[string]*gate
	build func(source string) *gate
}

func newGateSet(build func(source string) *gate) *gateSet {
	return &gateSet{gates: make(map[string]*gate), build: build}
}

func (s *gateSet) get(source string) *gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[source]
	if !ok {
		g = s.build(source)
		s.gates[source] = g
	}
	return g
}

func newLimiter(p Policy) *rate.Limiter {
	if p.MinDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.MinDelay), 1)
}
