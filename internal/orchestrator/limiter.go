package orchestrator

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Per-domain defaults.
const (
	// DefaultMaxPerDomain limits parallel requests to any single domain.
	DefaultMaxPerDomain = 2
	// DefaultDomainDelay is the minimum spacing between requests to the same domain.
	DefaultDomainDelay = 500 * time.Millisecond
)

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu         sync.Mutex
	perDomain  int
	delay      time.Duration
	semaphores map[string]chan struct{}
	limiters   map[string]*rate.Limiter
}

// newDomainLimiter creates a new per-domain rate limiter.
func newDomainLimiter(perDomain int, delay time.Duration) *domainLimiter {
	if perDomain < 1 {
		perDomain = DefaultMaxPerDomain
	}
	return &domainLimiter{
		perDomain:  perDomain,
		delay:      delay,
		semaphores: make(map[string]chan struct{}),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, dl.perDomain)
		dl.semaphores[domain] = sem
	}
	lim, ok := dl.limiters[domain]
	if !ok {
		limit := rate.Inf
		if dl.delay > 0 {
			limit = rate.Every(dl.delay)
		}
		lim = rate.NewLimiter(limit, 1)
		dl.limiters[domain] = lim
	}
	dl.mu.Unlock()

	// Acquire semaphore slot
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := lim.Wait(ctx); err != nil {
		// Release the semaphore on cancel
		<-sem
		return err
	}
	return nil
}

// release returns a slot for the domain.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	dl.mu.Unlock()
	if ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return sourceURL // fallback to full URL
	}
	return strings.ToLower(u.Host)
}
