package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/pkg/fn"
	"github.com/graphrag/core/pkg/resilience"
)

// summaryConcurrency bounds parallel LLM calls, matching the teacher's
// SummarizeCommunities semaphore width.
const summaryConcurrency = 8

// maxSampleNames caps the entity-name sample handed to the prompt.
const maxSampleNames = 10

// DefaultDailyTokenBudget is the per-namespace daily token allowance for
// cluster summarization, reset at UTC midnight (the spec leaves the reset
// boundary an open question; UTC midnight is chosen for a deterministic,
// timezone-independent boundary).
const DefaultDailyTokenBudget = 20000

// estimatedTokensPerSummary approximates cost per call for budget accounting
// without a tokenizer dependency; calibrated to the fixed prompt shape.
const estimatedTokensPerSummary = 150

// Summary is a generated cluster label/summary pair.
type Summary struct {
	ClusterID string
	Label     string
	Text      string
}

// Summarizer produces Summary records for clusters, backed by an
// Anthropic chat model, a summary cache keyed by hash(cluster_id, top_terms),
// and a per-namespace daily token budget.
type Summarizer struct {
	sdk        anthropic.Client
	configured bool
	model      string
	breaker    *resilience.Breaker

	mu        sync.Mutex
	cache     map[string]Summary
	budget    map[string]int // namespace -> tokens spent today
	budgetDay map[string]string
}

// NewSummarizer wires a Summarizer against an Anthropic API key; an empty
// key disables summarization and Summarize returns no results.
func NewSummarizer(apiKey, model string) *Summarizer {
	s := &Summarizer{
		cache:     map[string]Summary{},
		budget:    map[string]int{},
		budgetDay: map[string]string{},
	}
	if apiKey == "" {
		return s
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	s.sdk = anthropic.NewClient(option.WithAPIKey(apiKey))
	s.configured = true
	s.model = model
	s.breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	return s
}

// Summarize generates (or returns cached) summaries for clusters in
// namespace, returning the cached entry for any cluster that has one and
// skipping every uncached cluster once the namespace's daily token budget is
// exhausted. A cluster whose summary call fails, or that finds the budget
// spent, is simply absent from the returned slice; such failures are neither
// propagated nor logged, mirroring the teacher's best-effort summarization
// loop.
func (s *Summarizer) Summarize(ctx context.Context, namespace string, clusters []Cluster, sampleNames map[string][]string, budgetTokens int) []Summary {
	if !s.configured {
		return nil
	}
	if budgetTokens <= 0 {
		budgetTokens = DefaultDailyTokenBudget
	}

	sem := make(chan struct{}, summaryConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []Summary

	for _, c := range clusters {
		key := summaryCacheKey(c)

		s.mu.Lock()
		if cached, ok := s.cache[key]; ok {
			s.mu.Unlock()
			mu.Lock()
			out = append(out, cached)
			mu.Unlock()
			continue
		}
		s.mu.Unlock()

		if !s.consumeBudget(namespace, budgetTokens) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(c Cluster) {
			defer wg.Done()
			defer func() { <-sem }()

			names := sampleNames[c.ClusterID]
			if len(names) > maxSampleNames {
				names = names[:maxSampleNames]
			}
			label, text, err := s.callOnce(ctx, c.TopTerms, names)
			if err != nil {
				return
			}
			sum := Summary{ClusterID: c.ClusterID, Label: label, Text: text}
			s.mu.Lock()
			s.cache[key] = sum
			s.mu.Unlock()
			mu.Lock()
			out = append(out, sum)
			mu.Unlock()
		}(c)
	}

	wg.Wait()
	return out
}

func (s *Summarizer) consumeBudget(namespace string, limit int) bool {
	day := utcDay()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budgetDay[namespace] != day {
		s.budgetDay[namespace] = day
		s.budget[namespace] = 0
	}
	if s.budget[namespace]+estimatedTokensPerSummary > limit {
		return false
	}
	s.budget[namespace] += estimatedTokensPerSummary
	return true
}

func utcDay() string {
	return time.Now().UTC().Format("2006-01-02")
}

func summaryCacheKey(c Cluster) string {
	h := sha256.New()
	h.Write([]byte(c.ClusterID))
	h.Write([]byte(strings.Join(c.TopTerms, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Summarizer) callOnce(ctx context.Context, topTerms, sampleNames []string) (label, text string, err error) {
	prompt := fmt.Sprintf(
		`Given the following key terms and sample entity names from a cluster of related
graph entities, produce two lines: a label of 12 words or fewer, then a
2-sentence summary explaining what connects them.

Key terms: %s
Sample entities: %s`,
		strings.Join(topTerms, ", "), strings.Join(sampleNames, ", "))

	result := fn.Retry(ctx, fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second, Jitter: true},
		func(ctx context.Context) fn.Result[string] {
			return resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[string] {
				resp, err := s.sdk.Messages.New(ctx, anthropic.MessageNewParams{
					Model:     anthropic.Model(s.model),
					MaxTokens: 256,
					Messages: []anthropic.MessageParam{
						anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
					},
				})
				if err != nil {
					return fn.Err[string](err)
				}
				var raw strings.Builder
				for _, block := range resp.Content {
					if block.Type == "text" {
						raw.WriteString(block.Text)
					}
				}
				return fn.Ok(raw.String())
			})
		})

	raw, err := result.Unwrap()
	if err != nil {
		return "", "", domain.Wrap(domain.KindProviderFailure, err)
	}
	return splitLabelAndSummary(raw)
}

func splitLabelAndSummary(raw string) (label, text string, err error) {
	lines := strings.SplitN(strings.TrimSpace(raw), "\n", 2)
	label = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		text = strings.TrimSpace(lines[1])
	}
	return label, text, nil
}
