package embedder

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	calls int
	err   error
	dim   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func TestEmbedBatchCachesByContent(t *testing.T) {
	p := &fakeProvider{dim: 4}
	svc := New(p)

	texts := []string{"hello", "world", "hello"}
	out := svc.EmbedBatch(context.Background(), texts)
	if len(out) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(out))
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 provider call (dedup within batch via shared cache), got %d", p.calls)
	}

	svc.EmbedBatch(context.Background(), []string{"hello"})
	if p.calls != 1 {
		t.Fatalf("expected cache hit on second call, provider called %d times", p.calls)
	}
}

func TestEmbedBatchNullProvider(t *testing.T) {
	svc := New(nil)
	out := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	for _, s := range out {
		if len(s.Vector) != 0 || s.Failed {
			t.Errorf("expected empty, non-failed vectors from null provider, got %+v", s)
		}
	}
}

func TestEmbedBatchFailureTagsFailed(t *testing.T) {
	p := &fakeProvider{err: errors.New("provider down")}
	svc := New(p)
	out := svc.EmbedBatch(context.Background(), []string{"x"})
	if !out[0].Failed {
		t.Fatal("expected failed status on provider error")
	}
	if len(out[0].Vector) != 0 {
		t.Fatal("expected empty vector on failure")
	}
}
