// Package bedrock provides the AI provider client for chat enrichment and
// embedding generation, with throttle-aware retry.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
)

// ErrThrottled means the provider kept throttling through every retry. The
// worker hands the item back to the queue instead of recording a failure.
var ErrThrottled = errors.New("provider throttled")

// throttleCodes are the provider error codes classified as throttling.
var throttleCodes = map[string]bool{
	"ThrottlingException":                    true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
}

const (
	maxAttempts      = 6
	maxBackoff       = 10 * time.Second
	chatBackoffBase  = 800 * time.Millisecond
	embedBackoffBase = 400 * time.Millisecond
)

// Invoker is the subset of the Bedrock runtime API the client needs.
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Limiter gates provider calls. One InvokeModel attempt consumes one permit,
// retries included.
type Limiter interface {
	AcquireChat(ctx context.Context) error
	AcquireEmbed(ctx context.Context) error
}

// Config holds AI client configuration.
type Config struct {
	ModelID          string
	EmbeddingModelID string
	MaxTokens        int
	Dimension        int
}

// Client invokes Bedrock models behind the dual rate limiter.
type Client struct {
	invoker Invoker
	limiter Limiter
	cfg     Config
	logger  *observability.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client.
func NewClient(invoker Invoker, limiter Limiter, cfg Config, logger *observability.Logger) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		invoker: invoker,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// ModelID returns the configured chat model.
func (c *Client) ModelID() string {
	return c.cfg.ModelID
}

// chatRequest is the Anthropic-on-Bedrock chat payload.
type chatRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	Messages         []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// invokeChat sends one chat request with throttle retry and returns the
// model's text output.
func (c *Client) invokeChat(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        c.cfg.MaxTokens,
		Messages:         []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	out, err := c.invokeWithRetry(ctx, c.cfg.ModelID, body, chatBackoffBase, c.limiter.AcquireChat)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("chat response contains no text block")
}

// embeddingRequest covers both single and batch Titan inputs.
type embeddingRequest struct {
	InputText any `json:"inputText"`
}

type embeddingResponse struct {
	Embedding json.RawMessage `json:"embedding"`
}

// GenerateEmbedding embeds a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedding response is empty")
	}
	return vectors[0], nil
}

// GenerateEmbeddingsInBatch embeds all texts in a single provider call under
// a single permit.
func (c *Client) GenerateEmbeddingsInBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts)
}

func (c *Client) embed(ctx context.Context, input any) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{InputText: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	out, err := c.invokeWithRetry(ctx, c.cfg.EmbeddingModelID, body, embedBackoffBase, c.limiter.AcquireEmbed)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	return decodeEmbedding(resp.Embedding)
}

// decodeEmbedding accepts either a single vector or a batch of vectors.
func decodeEmbedding(raw json.RawMessage) ([][]float32, error) {
	if len(raw) == 0 {
		return nil, errors.New("embedding response missing embedding field")
	}

	var batch [][]float32
	if err := json.Unmarshal(raw, &batch); err == nil {
		return batch, nil
	}

	var single []float32
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decode embedding vector: %w", err)
	}
	return [][]float32{single}, nil
}

// invokeWithRetry retries throttled invocations with exponential backoff and
// jitter, taking a fresh rate-limit permit for every attempt so retries never
// outrun the configured QPS. Non-throttle provider errors surface unchanged;
// exhausted retries surface as ErrThrottled.
func (c *Client) invokeWithRetry(ctx context.Context, modelID string, body []byte, base time.Duration, acquire func(context.Context) error) ([]byte, error) {
	contentType := "application/json"

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := acquire(ctx); err != nil {
			return nil, fmt.Errorf("acquire permit for %s: %w", modelID, err)
		}
		out, err := c.invoker.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     &modelID,
			ContentType: &contentType,
			Accept:      &contentType,
			Body:        body,
		})
		if err == nil {
			return out.Body, nil
		}
		if !isThrottle(err) {
			return nil, fmt.Errorf("invoke model %s: %w", modelID, err)
		}
		if attempt == maxAttempts {
			c.logger.Warn().
				Str("model_id", modelID).
				Int("attempts", attempt).
				Msg("Throttled on every retry, handing item back")
			return nil, fmt.Errorf("%w: %s after %d attempts", ErrThrottled, modelID, attempt)
		}

		delay := backoffDelay(base, attempt)
		c.logger.Debug().
			Str("model_id", modelID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Provider throttled, backing off")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, ErrThrottled
}

// backoffDelay computes min(10s, base * 2^(attempt-1)) plus 50..200ms jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := time.Duration(50+rand.Intn(151)) * time.Millisecond
	return backoff + jitter
}

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && throttleCodes[apiErr.ErrorCode()] {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
