package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/pkg/fn"
	"github.com/graphrag/core/pkg/resilience"
)

// LLMClient wraps the Anthropic SDK behind the structured extraction
// contract, protected by a circuit breaker and bounded retry, mirroring how
// the teacher wraps every external-provider call.
type LLMClient struct {
	sdk     anthropic.Client
	model   string
	breaker *resilience.Breaker
}

// NewLLMClient constructs a client from an API key; an empty key means
// extraction degrades permanently to the heuristic path.
func NewLLMClient(apiKey, model string) *LLMClient {
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &LLMClient{
		sdk:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// llmRecord is the strict structured shape the extraction prompt demands.
type llmRecord struct {
	Entities []struct {
		Name  string `json:"name"`
		Label string `json:"label"`
	} `json:"entities"`
	Relations []struct {
		SourceName string  `json:"source_name"`
		TargetName string  `json:"target_name"`
		Relation   string  `json:"relation"`
		Confidence float64 `json:"confidence"`
	} `json:"relations"`
}

// ExtractLLM asks the model for a strict JSON record, then validates and
// normalizes it: drops empty names, normalizes labels to the closed set,
// clamps confidence to [0,1], deduplicates by lowercased name, and
// re-derives CO_OCCURS pairs for entities sharing this chunk.
func (c *LLMClient) ExtractLLM(ctx context.Context, text string) ([]Candidate, []DerivedRelation, error) {
	result := fn.Retry(ctx, fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second, Jitter: true},
		func(ctx context.Context) fn.Result[llmRecord] {
			return resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[llmRecord] {
				rec, err := c.callOnce(ctx, text)
				if err != nil {
					return fn.Err[llmRecord](err)
				}
				return fn.Ok(rec)
			})
		})
	rec, err := result.Unwrap()
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindProviderFailure, err)
	}
	return normalizeRecord(rec)
}

func (c *LLMClient) callOnce(ctx context.Context, text string) (llmRecord, error) {
	prompt := fmt.Sprintf(`Extract entities and relations from the text below. Respond with JSON only,
matching exactly: {"entities":[{"name":"","label":"Entity|Technology|Organization|Role|Achievement"}],
"relations":[{"source_name":"","target_name":"","relation":"","confidence":0.0}]}.

TEXT:
%s`, text)

	resp, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return llmRecord{}, err
	}

	var raw string
	for _, block := range resp.Content {
		if block.Type == "text" {
			raw += block.Text
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var rec llmRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rec); err != nil {
		return llmRecord{}, domain.NewError(domain.KindCorruptArtifact, "malformed extraction response", err)
	}
	return rec, nil
}

func normalizeRecord(rec llmRecord) ([]Candidate, []DerivedRelation, error) {
	var candidates []Candidate
	seen := map[string]bool{}
	labelOf := map[string]domain.Label{}

	for _, e := range rec.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		key := domain.NormalizeName(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		label := normalizeLabel(e.Label)
		labelOf[key] = label
		candidates = append(candidates, Candidate{Name: name, Label: label, Confidence: 0.8})
	}

	var relations []DerivedRelation
	for _, r := range rec.Relations {
		source := strings.TrimSpace(r.SourceName)
		target := strings.TrimSpace(r.TargetName)
		if source == "" || target == "" {
			continue
		}
		conf := clamp01(r.Confidence)
		relations = append(relations, DerivedRelation{
			SourceName: source, TargetName: target,
			Relation:   domain.Relation(strings.ToUpper(strings.TrimSpace(r.Relation))),
			Confidence: conf,
		})
	}

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			conf := candidates[i].Confidence
			if candidates[j].Confidence < conf {
				conf = candidates[j].Confidence
			}
			relations = append(relations, DerivedRelation{
				SourceName: candidates[i].Name, TargetName: candidates[j].Name,
				Relation: domain.RelCoOccurs, Confidence: conf,
			})
		}
	}
	return candidates, relations, nil
}

func normalizeLabel(raw string) domain.Label {
	label := domain.Label(strings.TrimSpace(raw))
	if domain.ValidLabels[label] {
		return label
	}
	return domain.LabelEntity
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
