// Package answer synthesizes a final answer from retrieved chunks, calling
// an LLM when one is configured and degrading to a retrieval-only mode
// (contributing node ids only, empty text) otherwise. Grounded on the
// teacher's engine/rag context-building + chat-call shape, with the
// dropped ml-worker ChatService replaced by anthropic-sdk-go.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/pkg/fn"
	"github.com/graphrag/core/pkg/resilience"
)

// Chunk is one piece of retrieved context handed to the synthesizer.
type Chunk struct {
	NodeID string
	Text   string
}

// Budget caps the synthesis call.
type Budget struct {
	MaxTokens   int
	Temperature float32
}

// DefaultBudget mirrors the teacher's default chat options.
var DefaultBudget = Budget{MaxTokens: 1024, Temperature: 0.3}

const defaultSystemPrompt = `Answer the question using ONLY the provided context chunks. If the context
does not contain enough information, say so plainly. Cite chunks by their
bracketed id, e.g. [chunk-3].`

// Synthesis is the synthesizer's output.
type Synthesis struct {
	AnswerText          string
	ContributingNodeIDs []string
	ErrorTag            string
}

// Synthesizer produces answers from question + retrieved chunks.
type Synthesizer struct {
	sdk        anthropic.Client
	configured bool
	model      string
	breaker    *resilience.Breaker
}

// New wires a Synthesizer against an Anthropic API key; an empty apiKey
// keeps the synthesizer in retrieval-only mode permanently.
func New(apiKey, model string) *Synthesizer {
	if apiKey == "" {
		return &Synthesizer{}
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Synthesizer{
		sdk:        anthropic.NewClient(option.WithAPIKey(apiKey)),
		configured: true,
		model:      model,
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// Synthesize builds an answer from question and the retrieved chunks,
// within budget. Contributing node ids are always populated from the
// chunks passed in, deduplicated with order preserved.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []Chunk, budget Budget) Synthesis {
	ids := contributingIDs(chunks)

	if !s.configured {
		return Synthesis{ContributingNodeIDs: ids}
	}
	if budget == (Budget{}) {
		budget = DefaultBudget
	}

	prompt := buildPrompt(question, chunks)

	result := fn.Retry(ctx, fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second, Jitter: true},
		func(ctx context.Context) fn.Result[string] {
			return resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[string] {
				text, err := s.callOnce(ctx, prompt, budget)
				if err != nil {
					return fn.Err[string](err)
				}
				return fn.Ok(text)
			})
		})

	if result.IsErr() {
		_, err := result.Unwrap()
		return Synthesis{ContributingNodeIDs: ids, ErrorTag: string(domain.KindOf(err))}
	}
	text, _ := result.Unwrap()
	return Synthesis{AnswerText: text, ContributingNodeIDs: ids}
}

func (s *Synthesizer) callOnce(ctx context.Context, prompt string, budget Budget) (string, error) {
	resp, err := s.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(budget.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: defaultSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func buildPrompt(question string, chunks []Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nContext:\n", question)
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", c.NodeID, c.Text)
	}
	return b.String()
}

func contributingIDs(chunks []Chunk) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range chunks {
		if c.NodeID == "" || seen[c.NodeID] {
			continue
		}
		seen[c.NodeID] = true
		out = append(out, c.NodeID)
	}
	return out
}
