// Package embedder computes and caches text embeddings and, optionally,
// indexes them into an external vector store.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/graphrag/core/pkg/fn"
	"github.com/graphrag/core/pkg/resilience"
)

// Provider computes embeddings for a batch of strings; a null provider
// returns empty vectors and lets retrieval fall back to structural+lexical
// signals only.
type Provider interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// NullProvider disables embedding computation entirely.
type NullProvider struct{}

func (NullProvider) Name() string { return "none" }

func (NullProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

// cacheEntry is a cached vector keyed by content hash and provider tag.
type cacheEntry struct {
	vector []float32
	failed bool
}

// Cache is a process-local, thread-safe cache keyed by sha256(text)+provider.
// It is read-dominant; writes only occur on a cache miss.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[string]cacheEntry{}}
}

func cacheKey(provider, text string) string {
	sum := sha256.Sum256([]byte(text))
	return provider + ":" + hex.EncodeToString(sum[:])
}

func (c *Cache) get(provider, text string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey(provider, text)]
	return e, ok
}

func (c *Cache) put(provider, text string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(provider, text)] = e
}

// Service computes embeddings through a provider, with a cache in front and
// a circuit breaker + bounded retry around the provider call.
type Service struct {
	provider Provider
	cache    *Cache
	breaker  *resilience.Breaker
}

// New wires a Service around provider; a nil provider is treated as disabled.
func New(provider Provider) *Service {
	if provider == nil {
		provider = NullProvider{}
	}
	return &Service{
		provider: provider,
		cache:    NewCache(),
		breaker:  resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// EmbedStatus reports per-text embedding outcome for callers that persist
// `embedding_status` in node properties on failure.
type EmbedStatus struct {
	Vector []float32
	Failed bool
}

// EmbedBatch returns one status per input text, aligned by index. Cache
// hits are served directly; misses are grouped into one provider call.
// On final provider failure after retries, affected texts get empty
// vectors tagged Failed.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) []EmbedStatus {
	out := make([]EmbedStatus, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if e, ok := s.cache.get(s.provider.Name(), t); ok {
			out[i] = EmbedStatus{Vector: e.vector, Failed: e.failed}
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out
	}

	result := fn.Retry(ctx, fn.RetryOpts{MaxAttempts: 3, InitialWait: 200 * time.Millisecond, MaxWait: 2 * time.Second, Jitter: true},
		func(ctx context.Context) fn.Result[[][]float32] {
			return resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
				vecs, err := s.provider.EmbedBatch(ctx, missTexts)
				if err != nil {
					return fn.Err[[][]float32](err)
				}
				return fn.Ok(vecs)
			})
		})

	if result.IsErr() {
		for k, i := range missIdx {
			out[i] = EmbedStatus{Failed: true}
			s.cache.put(s.provider.Name(), missTexts[k], cacheEntry{failed: true})
		}
		return out
	}

	vecs, _ := result.Unwrap()
	for k, i := range missIdx {
		var vec []float32
		if k < len(vecs) {
			vec = vecs[k]
		}
		out[i] = EmbedStatus{Vector: vec}
		s.cache.put(s.provider.Name(), missTexts[k], cacheEntry{vector: vec})
	}
	return out
}

// Dimension returns the dimensionality of the first non-empty vector in a
// batch, or 0 if all are empty (disabled or fully failed).
func Dimension(statuses []EmbedStatus) int {
	for _, s := range statuses {
		if len(s.Vector) > 0 {
			return len(s.Vector)
		}
	}
	return 0
}
