package openai

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentcouncil/model"
	"github.com/openai/openai-go"
)

// EmbedderOptions configure the OpenAI embedder.
type EmbedderOptions struct {
	Model      string
	Dimensions int64
	APIKey     string
	BaseURL    string
}

// Embedder turns text into vectors with the OpenAI Embeddings API.
type Embedder struct {
	client *openai.Client
	opts   EmbedderOptions
}

// NewEmbedder creates an embedder producing 1536-dimensional vectors by default.
func NewEmbedder(optFns ...func(o *EmbedderOptions)) *Embedder {
	opts := EmbedderOptions{
		Model:      string(openai.EmbeddingModelTextEmbedding3Small),
		Dimensions: 1536,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(clientOptions(Options{APIKey: opts.APIKey, BaseURL: opts.BaseURL})...)
	return &Embedder{client: &client, opts: opts}
}

// Embed returns the embedding vector of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:      openai.EmbeddingModel(e.opts.Model),
		Dimensions: openai.Int(e.opts.Dimensions),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, model.NewError(model.KindEmptyResponse, "", "no embedding returned")
	}
	if got := int64(len(resp.Data[0].Embedding)); e.opts.Dimensions > 0 && got != e.opts.Dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", got, e.opts.Dimensions)
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int { return int(e.opts.Dimensions) }
