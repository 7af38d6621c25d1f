package ai

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	genai "github.com/google/generative-ai-go/genai"
)

// EmbedText returns the embedding vector for the given text. The returned
// vector always has exactly the configured number of dimensions; anything
// else from the service is treated as a contract violation.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrEmbedding)
	}

	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.embed_text")
	defer span.End()

	span.SetAttributes(
		attribute.String("gemini.model", c.embeddingModel),
		attribute.Int("gemini.input_bytes", len(text)),
	)

	var vec []float32
	err := c.withRetry(ctx, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			model := c.client.EmbeddingModel(c.embeddingModel)
			return model.EmbedContent(ctx, genai.Text(text))
		})
		if err != nil {
			return err
		}

		resp := result.(*genai.EmbedContentResponse)
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return fmt.Errorf("no embedding returned")
		}
		vec = resp.Embedding.Values
		return nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	if err := c.ValidateDimensions(vec); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("gemini.vector_dim", len(vec)))
	return vec, nil
}

// ValidateDimensions rejects vectors that do not match the configured
// dimensionality. Stored chunk vectors and query vectors must agree for the
// distance operator to work.
func (c *Client) ValidateDimensions(vec []float32) error {
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbedding, len(vec), c.dimensions)
	}
	return nil
}
