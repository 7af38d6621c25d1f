package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"docchat-backend/internal/config"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// Error classes for failures of the external Gemini services.
var (
	ErrEmbedding  = errors.New("embedding service failed")
	ErrCompletion = errors.New("completion service failed")
)

const answerSystemInstruction = "You are a helpful assistant. Answer questions based only on the provided context."

// Client wraps the Gemini API with a circuit breaker, a request rate limiter
// and bounded retries with exponential backoff.
type Client struct {
	client          *genai.Client
	breaker         *gobreaker.CircuitBreaker
	rateLimiter     *rate.Limiter
	embeddingModel  string
	completionModel string
	dimensions      int
	maxRetries      int
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewClient(cfg *config.Config) (*Client, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(cfg.GeminiTier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10)

	return &Client{
		client:          client,
		breaker:         breaker,
		rateLimiter:     rateLimiter,
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		dimensions:      cfg.VectorDimensions,
		maxRetries:      3,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// GenerateAnswer produces an answer for query grounded on contextText via the
// chat-completion model. Sampling parameters are fixed.
func (c *Client) GenerateAnswer(ctx context.Context, query, contextText string) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_answer")
	defer span.End()

	span.SetAttributes(
		attribute.String("gemini.model", c.completionModel),
		attribute.Int("gemini.context_bytes", len(contextText)),
	)

	prompt := BuildPrompt(query, contextText)

	var answer string
	err := c.withRetry(ctx, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			model := c.client.GenerativeModel(c.completionModel)
			model.SetTemperature(0.7)
			model.SetMaxOutputTokens(500)
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(answerSystemInstruction)},
			}
			return model.GenerateContent(ctx, genai.Text(prompt))
		})
		if err != nil {
			return err
		}

		resp := result.(*genai.GenerateContentResponse)
		text := extractResponseText(resp)
		if text == "" {
			return fmt.Errorf("no answer returned")
		}
		answer = text
		return nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", fmt.Errorf("%w: %v", ErrCompletion, err)
	}

	span.SetAttributes(attribute.Bool("gemini.success", true))
	return answer, nil
}

// BuildPrompt assembles the user prompt for the answer generator.
func BuildPrompt(query, contextText string) string {
	return fmt.Sprintf("Context: %s\n\nQuestion: %s\n\nAnswer:", contextText, query)
}

func extractResponseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

// withRetry runs fn up to maxRetries+1 times with exponential backoff. An
// open circuit breaker aborts immediately; retrying would only keep it open.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay(attempt - 1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, gobreaker.ErrOpenState) || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
	}
	return lastErr
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// Close the client
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
