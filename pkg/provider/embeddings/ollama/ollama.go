// Package ollama implements the embeddings provider against a local Ollama
// server's /api/embed endpoint.
//
// It is the zero-cost option for semantic answer scoring: a locally hosted
// model such as nomic-embed-text, mxbai-embed-large or all-minilm produces
// the dense vectors the evaluator compares, without any API key.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vivavox/vivavox/pkg/provider/embeddings"
)

// DefaultBaseURL points at an Ollama server running on the local machine.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// wellKnownDims maps recognised model families to their output width. An
// unknown model gets probed on the first Dimensions call instead.
var wellKnownDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// Provider talks to one Ollama server and one embedding model. It is safe
// for concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	// dims is resolved from WithDimensions, the well-known table, or a
	// one-time probe request, in that order.
	dims  int
	probe sync.Once
}

// Option adjusts optional Provider settings.
type Option func(*Provider)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithDimensions fixes the embedding width up front, skipping both the
// model-name table and the probe request.
func WithDimensions(dims int) Option {
	return func(p *Provider) { p.dims = dims }
}

// New returns a Provider for the given server and model. An empty baseURL
// selects [DefaultBaseURL]; model is required.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}

	if p.dims == 0 {
		for family, n := range wellKnownDims {
			if strings.Contains(strings.ToLower(model), family) {
				p.dims = n
				break
			}
		}
	}
	return p, nil
}

// Embed returns the vector for a single text. Any model-specific prompt
// prefix (nomic's "query: ", for example) is the caller's responsibility.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request. result[i] corresponds to
// texts[i]; an empty input returns (nil, nil) without a network call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions reports the vector width. For models missing from the
// well-known table it issues a single probe embed against the live server
// and caches the result; a failed probe reports 0.
func (p *Provider) Dimensions() int {
	if p.dims != 0 {
		return p.dims
	}
	p.probe.Do(func() {
		vecs, err := p.post(context.Background(), []string{"probe"})
		if err == nil && len(vecs) > 0 {
			p.dims = len(vecs[0])
		}
	})
	return p.dims
}

// ModelID returns the configured Ollama model name.
func (p *Provider) ModelID() string {
	return p.model
}

// post sends one /api/embed request and returns the raw vectors.
func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: p.model, Input: texts}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return out.Embeddings, nil
}
