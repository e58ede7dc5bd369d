package openai

import (
	"context"
	"strings"

	"github.com/hupe1980/agentcouncil/model"
	"github.com/openai/openai-go"
)

// ImageOptions configure the image generator.
type ImageOptions struct {
	Model   string
	Size    string
	APIKey  string
	BaseURL string
}

// ImageGenerator creates images with the OpenAI Images API.
type ImageGenerator struct {
	client *openai.Client
	opts   ImageOptions
}

// NewImageGenerator creates a DALL-E 3 generator producing 1024x1024 images.
func NewImageGenerator(optFns ...func(o *ImageOptions)) *ImageGenerator {
	opts := ImageOptions{
		Model: string(openai.ImageModelDallE3),
		Size:  "1024x1024",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(clientOptions(Options{APIKey: opts.APIKey, BaseURL: opts.BaseURL})...)
	return &ImageGenerator{client: &client, opts: opts}
}

// Generate returns the URL of one image rendered from prompt.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(g.opts.Model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(g.opts.Size),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return "", model.NewError(model.KindEmptyResponse, "", "no image returned")
	}
	return resp.Data[0].URL, nil
}
