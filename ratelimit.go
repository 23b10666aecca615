package aifetchly

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ToolCategory is an admission-control bucket. Tools share one budget per
// category, resolved from the tool name by substring match.
type ToolCategory string

const (
	// CategoryAnalysis covers website analysis and classification tools, which
	// hit the most expensive upstream and get the strictest budget.
	CategoryAnalysis ToolCategory = "analysis"

	// CategoryExtraction covers email and data extraction tools.
	CategoryExtraction ToolCategory = "extraction"

	// CategoryDirectory covers directory search (yellow pages) tools.
	CategoryDirectory ToolCategory = "directory"

	// CategoryDefault is the most permissive bucket for everything else.
	CategoryDefault ToolCategory = "default"
)

// CategoryForTool resolves the rate-limit category from a tool name.
func CategoryForTool(name string) ToolCategory {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "website") || strings.Contains(n, "analyze"):
		return CategoryAnalysis
	case strings.Contains(n, "email") || strings.Contains(n, "extract"):
		return CategoryExtraction
	case strings.Contains(n, "yellow"):
		return CategoryDirectory
	default:
		return CategoryDefault
	}
}

// CategoryLimits is the admission budget of one category.
type CategoryLimits struct {
	// MaxConcurrent caps simultaneous holders of a slot.
	MaxConcurrent int

	// PerMinute caps grants per rolling 60-second window.
	PerMinute int

	// Cooldown is the minimum gap between two grants.
	Cooldown time.Duration
}

var defaultCategoryLimits = map[ToolCategory]CategoryLimits{
	CategoryAnalysis:   {MaxConcurrent: 1, PerMinute: 10, Cooldown: 2 * time.Second},
	CategoryExtraction: {MaxConcurrent: 2, PerMinute: 20, Cooldown: time.Second},
	CategoryDirectory:  {MaxConcurrent: 2, PerMinute: 30, Cooldown: 500 * time.Millisecond},
	CategoryDefault:    {MaxConcurrent: 3, PerMinute: 60, Cooldown: 200 * time.Millisecond},
}

// RateLimiter provides per-category admission control. Acquire blocks until a
// slot is available under the category's three constraints; there is no
// fast-fail path, by design, so callers eventually complete rather than being
// rejected. Category limiters are singletons created lazily on first use and
// shared across conversation turns.
type RateLimiter struct {
	mu         sync.Mutex
	categories map[ToolCategory]*categoryLimiter
	limits     map[ToolCategory]CategoryLimits
}

type categoryLimiter struct {
	sem      chan struct{}
	window   *rate.Limiter
	cooldown time.Duration

	// grantMu serializes grants so the cooldown gap holds between any two of them.
	grantMu   sync.Mutex
	lastGrant time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithCategoryLimits overrides the budget of one category.
func WithCategoryLimits(category ToolCategory, limits CategoryLimits) RateLimiterOption {
	return func(r *RateLimiter) {
		r.limits[category] = limits
	}
}

// NewRateLimiter creates a rate limiter with the default per-category budgets.
func NewRateLimiter(options ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		categories: make(map[ToolCategory]*categoryLimiter),
		limits:     make(map[ToolCategory]CategoryLimits, len(defaultCategoryLimits)),
	}
	for cat, limits := range defaultCategoryLimits {
		r.limits[cat] = limits
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *RateLimiter) limiter(category ToolCategory) *categoryLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cl, ok := r.categories[category]; ok {
		return cl
	}

	limits, ok := r.limits[category]
	if !ok {
		limits = r.limits[CategoryDefault]
	}
	// Zero or negative limits would deadlock the semaphore or divide by zero
	// in the window interval; clamp them to the smallest working budget.
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = 1
	}
	if limits.PerMinute <= 0 {
		limits.PerMinute = 1
	}

	cl := &categoryLimiter{
		sem:      make(chan struct{}, limits.MaxConcurrent),
		window:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(limits.PerMinute)), limits.PerMinute),
		cooldown: limits.Cooldown,
	}
	r.categories[category] = cl
	return cl
}

// Acquire blocks until the category grants a slot: a free concurrency slot,
// capacity in the per-minute window, and the cooldown gap since the previous
// grant. It returns an error only when ctx is done. Every successful Acquire
// must be paired with Release on all exit paths, or the category permanently
// loses a concurrency slot.
func (r *RateLimiter) Acquire(ctx context.Context, category ToolCategory) error {
	cl := r.limiter(category)
	start := time.Now()

	select {
	case cl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := cl.window.Wait(ctx); err != nil {
		<-cl.sem
		return err
	}

	cl.grantMu.Lock()
	defer cl.grantMu.Unlock()
	if wait := cl.cooldown - time.Since(cl.lastGrant); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-cl.sem
			return ctx.Err()
		}
	}
	cl.lastGrant = time.Now()

	rateLimitWaitSeconds.WithLabelValues(string(category)).Observe(time.Since(start).Seconds())
	return nil
}

// Release frees a concurrency slot immediately. The per-minute counter is not
// affected; it decays naturally.
func (r *RateLimiter) Release(category ToolCategory) {
	cl := r.limiter(category)
	select {
	case <-cl.sem:
	default:
	}
}
