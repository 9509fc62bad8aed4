// Package openai provides an OpenAI-backed embedder.
//
// A custom BaseURL covers any OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI embedder client implementing the embedder.Provider
// interface.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for the OpenAI embedder.
// APIKey: API key (required)
// Model: Embedding model name, defaults to text-embedding-3-small
// BaseURL: API base URL, defaults to the OpenAI official address
// Dimensions: Vector dimensions, defaults to 1536
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI embedder client.
//
// Args:
//   - cfg: Configuration containing APIKey, Model, BaseURL, and Dimensions
//
// Returns:
//   - *Client: OpenAI embedder client instance
//   - error: Returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	client := openai.NewClientWithConfig(config)

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - text: Text content to vectorize
//
// Returns:
//   - []float64: Vector representation of the text
//   - error: Returns an error if vectorization fails
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("embedding generation failed: no data returned from API")
	}

	return toFloat64(resp.Data[0].Embedding), nil
}

// EmbedBatch converts multiple texts to vectors in batch.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - texts: List of texts to vectorize
//
// Returns:
//   - [][]float64: Vector representation for each text (order matches input)
//   - error: Returns an error if vectorization fails or counts don't match
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: got %d results for %d inputs",
			len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = toFloat64(data.Embedding)
	}

	return embeddings, nil
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is
// retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// toFloat64 converts the SDK's float32 embedding to float64.
func toFloat64(embedding []float32) []float64 {
	result := make([]float64, len(embedding))
	for i, v := range embedding {
		result[i] = float64(v)
	}
	return result
}
