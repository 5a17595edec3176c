package answer

import (
	"context"
	"strings"
	"testing"
)

func TestSynthesizeRetrievalOnlyWithoutAPIKey(t *testing.T) {
	s := New("", "")
	chunks := []Chunk{{NodeID: "c1", Text: "alpha"}, {NodeID: "c2", Text: "beta"}, {NodeID: "c1", Text: "alpha again"}}

	out := s.Synthesize(context.Background(), "what is alpha?", chunks, Budget{})

	if out.AnswerText != "" {
		t.Fatalf("expected empty answer text in retrieval-only mode, got %q", out.AnswerText)
	}
	want := []string{"c1", "c2"}
	if len(out.ContributingNodeIDs) != len(want) {
		t.Fatalf("expected deduplicated ids %v, got %v", want, out.ContributingNodeIDs)
	}
	for i, id := range want {
		if out.ContributingNodeIDs[i] != id {
			t.Fatalf("expected order %v, got %v", want, out.ContributingNodeIDs)
		}
	}
}

func TestSynthesizeEmptyChunksYieldsNoIDs(t *testing.T) {
	s := New("", "")
	out := s.Synthesize(context.Background(), "anything", nil, Budget{})
	if len(out.ContributingNodeIDs) != 0 {
		t.Fatalf("expected no contributing ids, got %v", out.ContributingNodeIDs)
	}
}

func TestBuildPromptIncludesChunkIDs(t *testing.T) {
	prompt := buildPrompt("q?", []Chunk{{NodeID: "n1", Text: "hello"}})
	if !strings.Contains(prompt, "[n1]") || !strings.Contains(prompt, "hello") {
		t.Fatalf("expected prompt to reference chunk id and text, got %q", prompt)
	}
}
