package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/graphrag/core/pkg/mid"
)

// apiKeyAuth rejects mutating requests (and /answer) lacking a matching
// x-api-key header, when an API key is configured; an empty expected key
// disables auth entirely (auth is optional per spec.md §6).
func apiKeyAuth(expected string, guarded func(*http.Request) bool) mid.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" || !guarded(r) {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("x-api-key") != expected {
				writeError(w, errMissingAPIKey)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// mutatingMethod reports whether r is a write (vs. read) request; used as
// apiKeyAuth's default guard.
func mutatingMethod(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// limiterSet hands out a rate.Limiter per key (namespace, or namespace+mode
// for retrieval), creating one lazily on first use. Grounded on the
// teacher's engine/scraper/youtube.go YouTubeScraper.rateLimiter field,
// generalized from one fixed limiter per scraper instance to one limiter
// per request-classification key.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	newLimit func() *rate.Limiter
}

func newLimiterSet(newLimit func() *rate.Limiter) *limiterSet {
	return &limiterSet{limiters: map[string]*rate.Limiter{}, newLimit: newLimit}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = s.newLimit()
		s.limiters[key] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// RateLimits configures the token-bucket limiters keyed by retrieval mode
// and by cluster-summarization calls; "global" mode and summarization are
// stricter per spec.md §4.12, since both fan out to an LLM.
type RateLimits struct {
	Default     *limiterSet // per-namespace, most endpoints
	GlobalMode  *limiterSet // per-namespace, mode=global queries
	Summarize   *limiterSet // per-namespace, cluster summarization
}

// DefaultRateLimits returns the standard per-mode limiter configuration:
// 10 req/s burst 20 for ordinary traffic, 2 req/s burst 4 for global-mode
// queries, 1 req/s burst 2 for cluster summarization.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Default:    newLimiterSet(func() *rate.Limiter { return rate.NewLimiter(rate.Limit(10), 20) }),
		GlobalMode: newLimiterSet(func() *rate.Limiter { return rate.NewLimiter(rate.Limit(2), 4) }),
		Summarize:  newLimiterSet(func() *rate.Limiter { return rate.NewLimiter(rate.Limit(1), 2) }),
	}
}

func (rl RateLimits) allowQuery(namespace, mode string) bool {
	if mode == "global" {
		return rl.GlobalMode.allow(namespace)
	}
	return rl.Default.allow(namespace)
}

func (rl RateLimits) allowSummarize(namespace string) bool {
	return rl.Summarize.allow(namespace)
}

func (rl RateLimits) allowDefault(namespace string) bool {
	return rl.Default.allow(namespace)
}
