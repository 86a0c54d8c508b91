// Package embeddings defines the interface over text-embedding backends.
//
// The semantic answer evaluator embeds the examinee's transcript and the
// expected answer and compares the vectors by cosine similarity; the
// question store embeds question text for similarity search. Backends range
// from the OpenAI embeddings API to a local Ollama model.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector from one Provider instance has the same length, reported by
// Dimensions. Vectors from different instances live in different spaces and
// must not be compared unless the caller knows both use the same model.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text, of length Dimensions().
	// Text is passed through verbatim: any model-specific prompt prefix is
	// the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds all texts in one backend call. result[i] corresponds
	// to texts[i]. On error the whole result is nil; there are no partial
	// results.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length of this provider's model.
	Dimensions() int

	// ModelID identifies the underlying model, such as
	// "text-embedding-3-small". Stored alongside vectors so stale embeddings
	// can be detected after a model change.
	ModelID() string
}
