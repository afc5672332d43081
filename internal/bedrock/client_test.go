package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/ratelimit"
)

// mockInvoker replays canned responses or errors per call.
type mockInvoker struct {
	responses []any // []byte body or error
	calls     int
	inputs    []*bedrockruntime.InvokeModelInput
}

func (m *mockInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	m.inputs = append(m.inputs, params)
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	switch v := m.responses[idx].(type) {
	case error:
		return nil, v
	case []byte:
		return &bedrockruntime.InvokeModelOutput{Body: v}, nil
	default:
		panic("unexpected mock response type")
	}
}

func chatBody(text string) []byte {
	body, _ := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	return body
}

func newTestClient(invoker Invoker) *Client {
	limiter := ratelimit.New(ratelimit.Config{ChatQPS: 1000, EmbedQPS: 1000})
	c := NewClient(invoker, limiter, Config{
		ModelID:          "anthropic.claude-3-haiku-20240307-v1:0",
		EmbeddingModelID: "amazon.titan-embed-text-v2:0",
		MaxTokens:        1024,
	}, observability.Nop())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func throttleErr() error {
	return &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
}

func TestEnrichItemSuccess(t *testing.T) {
	response := `{"standardEnrichments":{"summary":"s","keywords":["k"],"sentiment":"neutral","classification":"c","tags":["t"]}}`
	invoker := &mockInvoker{responses: []any{chatBody(response)}}

	result, err := newTestClient(invoker).EnrichItem(context.Background(), "Hello world", map[string]any{"sourcePath": "/p"})
	require.NoError(t, err)
	require.False(t, result.Failed())
	assert.Equal(t, "s", result.Enrichment.Summary)
	assert.Equal(t, []string{"k"}, result.Enrichment.Keywords)
	assert.Equal(t, "neutral", result.Enrichment.Sentiment)
	assert.Equal(t, []string{"t"}, result.Enrichment.Tags)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", result.ModelUsed)
}

func TestEnrichItemPromptShape(t *testing.T) {
	invoker := &mockInvoker{responses: []any{chatBody(`{"standardEnrichments":{"summary":"s","keywords":[],"sentiment":"n","classification":"c","tags":[]}}`)}}

	_, err := newTestClient(invoker).EnrichItem(context.Background(), "the content", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Len(t, invoker.inputs, 1)

	var req chatRequest
	require.NoError(t, json.Unmarshal(invoker.inputs[0].Body, &req))
	assert.Equal(t, "bedrock-2023-05-31", req.AnthropicVersion)
	assert.Equal(t, 1024, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "<content>\nthe content\n</content>")
	assert.Contains(t, req.Messages[0].Content, `<context>`)
	assert.Contains(t, req.Messages[0].Content, `{"k":"v"}`)
}

func TestEnrichItemCodeFencedResponse(t *testing.T) {
	fenced := "```json\n{\"standardEnrichments\":{\"summary\":\"s\",\"keywords\":[],\"sentiment\":\"n\",\"classification\":\"c\",\"tags\":[]}}\n```"
	invoker := &mockInvoker{responses: []any{chatBody(fenced)}}

	result, err := newTestClient(invoker).EnrichItem(context.Background(), "x", nil)
	require.NoError(t, err)
	require.False(t, result.Failed())
	assert.Equal(t, "s", result.Enrichment.Summary)
}

func TestEnrichItemMalformedOutputIsResultError(t *testing.T) {
	invoker := &mockInvoker{responses: []any{chatBody("sorry, I cannot help")}}

	result, err := newTestClient(invoker).EnrichItem(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Nil(t, result.Enrichment)
}

func TestEnrichItemMissingStandardEnrichments(t *testing.T) {
	invoker := &mockInvoker{responses: []any{chatBody(`{"something":"else"}`)}}

	result, err := newTestClient(invoker).EnrichItem(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.True(t, result.Failed())
}

func TestEnrichItemThrottledAfterRetries(t *testing.T) {
	invoker := &mockInvoker{responses: []any{throttleErr()}}

	_, err := newTestClient(invoker).EnrichItem(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, 6, invoker.calls)
}

func TestEnrichItemThrottleThenSuccess(t *testing.T) {
	response := `{"standardEnrichments":{"summary":"s","keywords":[],"sentiment":"n","classification":"c","tags":[]}}`
	invoker := &mockInvoker{responses: []any{throttleErr(), throttleErr(), chatBody(response)}}

	result, err := newTestClient(invoker).EnrichItem(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.False(t, result.Failed())
	assert.Equal(t, 3, invoker.calls)
}

func TestEnrichItemNonThrottleErrorNotRetried(t *testing.T) {
	invoker := &mockInvoker{responses: []any{&smithy.GenericAPIError{Code: "ValidationException", Message: "bad"}}}

	_, err := newTestClient(invoker).EnrichItem(context.Background(), "x", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrThrottled)
	assert.Equal(t, 1, invoker.calls)
}

// countingLimiter tallies permits without ever blocking.
type countingLimiter struct {
	chat, embed int
}

func (l *countingLimiter) AcquireChat(context.Context) error  { l.chat++; return nil }
func (l *countingLimiter) AcquireEmbed(context.Context) error { l.embed++; return nil }

func newCountedClient(invoker Invoker, limiter Limiter) *Client {
	c := NewClient(invoker, limiter, Config{
		ModelID:          "chat-model",
		EmbeddingModelID: "embed-model",
	}, observability.Nop())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestEnrichItemPermitPerAttempt(t *testing.T) {
	response := `{"standardEnrichments":{"summary":"s","keywords":[],"sentiment":"n","classification":"c","tags":[]}}`
	invoker := &mockInvoker{responses: []any{throttleErr(), throttleErr(), chatBody(response)}}
	limiter := &countingLimiter{}

	_, err := newCountedClient(invoker, limiter).EnrichItem(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, invoker.calls)
	assert.Equal(t, 3, limiter.chat, "every retry attempt needs its own permit")
	assert.Zero(t, limiter.embed)
}

func TestEmbeddingPermitPerAttempt(t *testing.T) {
	invoker := &mockInvoker{responses: []any{throttleErr()}}
	limiter := &countingLimiter{}

	_, err := newCountedClient(invoker, limiter).GenerateEmbedding(context.Background(), "x")
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, 6, invoker.calls)
	assert.Equal(t, 6, limiter.embed)
	assert.Zero(t, limiter.chat)
}

func TestGenerateEmbedding(t *testing.T) {
	body, _ := json.Marshal(map[string]any{"embedding": []float32{0.1, 0.2}})
	invoker := &mockInvoker{responses: []any{body}}

	vec, err := newTestClient(invoker).GenerateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	var req map[string]any
	require.NoError(t, json.Unmarshal(invoker.inputs[0].Body, &req))
	assert.Equal(t, "hello", req["inputText"])
}

func TestGenerateEmbeddingsInBatch(t *testing.T) {
	body, _ := json.Marshal(map[string]any{"embedding": [][]float32{{0.1}, {0.2}}})
	invoker := &mockInvoker{responses: []any{body}}

	vecs, err := newTestClient(invoker).GenerateEmbeddingsInBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1}, vecs[0])
	assert.Equal(t, 1, invoker.calls)

	var req map[string]any
	require.NoError(t, json.Unmarshal(invoker.inputs[0].Body, &req))
	assert.Equal(t, []any{"a", "b"}, req["inputText"])
}

func TestGenerateEmbeddingsInBatchEmpty(t *testing.T) {
	invoker := &mockInvoker{responses: []any{[]byte(`{}`)}}
	vecs, err := newTestClient(invoker).GenerateEmbeddingsInBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Zero(t, invoker.calls)
}

func TestBackoffDelayCapped(t *testing.T) {
	d := backoffDelay(chatBackoffBase, 6)
	assert.LessOrEqual(t, d, maxBackoff+200*time.Millisecond)
	assert.GreaterOrEqual(t, d, maxBackoff+50*time.Millisecond)

	first := backoffDelay(chatBackoffBase, 1)
	assert.GreaterOrEqual(t, first, chatBackoffBase+50*time.Millisecond)
	assert.LessOrEqual(t, first, chatBackoffBase+200*time.Millisecond)
}

func TestValidateResult(t *testing.T) {
	valid := &EnrichmentResult{
		Enrichment: &Enrichment{
			Summary: "s", Keywords: []string{}, Sentiment: "n",
			Classification: "c", Tags: []string{},
		},
		Context: map[string]any{
			"fullContextId": "/p::copy",
			"sourcePath":    "/p",
			"provenance":    map[string]any{"modelId": "m"},
		},
	}
	assert.NoError(t, ValidateResult(valid))

	missingContext := &EnrichmentResult{Enrichment: valid.Enrichment, Context: map[string]any{}}
	assert.Error(t, ValidateResult(missingContext))

	missingSummary := &EnrichmentResult{
		Enrichment: &Enrichment{Keywords: []string{}, Sentiment: "n", Classification: "c", Tags: []string{}},
		Context:    valid.Context,
	}
	assert.Error(t, ValidateResult(missingSummary))

	assert.Error(t, ValidateResult(nil))
}

func TestIsThrottle(t *testing.T) {
	assert.True(t, isThrottle(throttleErr()))
	assert.True(t, isThrottle(&smithy.GenericAPIError{Code: "TooManyRequestsException"}))
	assert.True(t, isThrottle(&smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}))
	assert.False(t, isThrottle(&smithy.GenericAPIError{Code: "ValidationException"}))
	assert.False(t, isThrottle(errors.New("plain")))
}
