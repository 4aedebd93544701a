package embedding

import (
	"context"
)

type EmbeddingRequest struct {
	Inputs []string `json:"inputs"`
}

type EmbeddingResponse [][]float32

// Client is the embedding provider boundary. Implementations return one
// vector per input text, in input order, with a fixed dimension per model.
type Client interface {
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}
