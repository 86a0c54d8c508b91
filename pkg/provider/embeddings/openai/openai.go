// Package openai implements the embeddings provider on the OpenAI API. The
// semantic answer evaluator uses it to embed expected and spoken answers for
// cosine comparison.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/vivavox/vivavox/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider wraps an OpenAI client for one embedding model.
type Provider struct {
	client oai.Client
	model  string
}

// Option appends request options to the underlying OpenAI client.
type Option func(*[]option.RequestOption)

// WithBaseURL overrides the default OpenAI API base URL, for proxies and
// API-compatible servers.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithBaseURL(url))
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithOrganization(org))
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New returns a Provider for the given model, [DefaultModel] when empty.
// The API key is required.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// request issues one embeddings call and returns n vectors ordered by the
// response index field, since the API may return data out of order.
func (p *Provider) request(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{Model: p.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", n, len(resp.Data))
	}

	vectors := make([][]float32, n)
	for _, e := range resp.Data {
		if int(e.Index) >= n {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		vectors[e.Index] = float64ToFloat32(e.Embedding)
	}
	return vectors, nil
}

// Embed returns the vector for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	input := oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}
	vectors, err := p.request(ctx, input, 1)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in one API call, results ordered like texts.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}
	return p.request(ctx, input, len(texts))
}

// Dimensions reports the vector width of the configured model.
func (p *Provider) Dimensions() int {
	return modelDimensions(p.model)
}

// ModelID returns the configured model name.
func (p *Provider) ModelID() string {
	return p.model
}

// modelDimensions resolves the vector width by model family. 1536 is the
// fallback for unknown models, matching the small-model default.
func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "text-embedding-3-large") {
		return 3072
	}
	return 1536
}

// The OpenAI SDK returns float64 vectors; the rest of the pipeline works in
// float32 to match pgvector storage.
func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
