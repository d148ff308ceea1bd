package embeddings

import "context"

// Provider produces vector representations for text. The model call
// itself is an external collaborator; the core only consumes it.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
