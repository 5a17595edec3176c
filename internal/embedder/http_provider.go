package embedder

import (
	"context"

	"github.com/graphrag/core/pkg/ollama"
)

// HTTPProvider adapts an HTTP embedding backend (e.g. Ollama) to Provider.
type HTTPProvider struct {
	client *ollama.EmbedClient
	name   string
}

// NewHTTPProvider wires an HTTP-based provider against baseURL/model,
// grounded on the teacher's Ollama HTTP embedding client.
func NewHTTPProvider(name, baseURL, model string) *HTTPProvider {
	return &HTTPProvider{client: ollama.NewEmbedClient(baseURL, model), name: name}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.client.EmbedBatch(ctx, texts)
}
