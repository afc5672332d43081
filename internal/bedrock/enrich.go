package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// promptTemplate is the fixed enrichment prompt. The model must answer with
// bare JSON carrying a standardEnrichments object.
const promptTemplate = `You are a content enrichment service. Analyze the content below together with its context and respond with a single JSON object and nothing else.

The JSON object must have exactly one top-level key "standardEnrichments" with these subkeys:
- "summary": a one or two sentence summary (string)
- "keywords": the most relevant keywords (array of strings)
- "sentiment": one of "positive", "neutral", "negative" (string)
- "classification": a short content category label (string)
- "tags": freeform descriptive tags (array of strings)

<content>
%s
</content>

<context>
%s
</context>`

// Enrichment is the validated standardEnrichments block.
type Enrichment struct {
	Summary        string   `json:"summary"`
	Keywords       []string `json:"keywords"`
	Sentiment      string   `json:"sentiment"`
	Classification string   `json:"classification"`
	Tags           []string `json:"tags"`
}

// EnrichmentResult is the outcome of one enrichItem call. Error is populated
// for parse and validation failures; those are permanent, not throttles.
type EnrichmentResult struct {
	Enrichment *Enrichment
	Context    map[string]any
	ModelUsed  string
	Error      string
}

// Failed reports whether the result records a permanent failure.
func (r *EnrichmentResult) Failed() bool {
	return r.Error != ""
}

// EnrichItem acquires a chat permit, prompts the model, and parses the
// response. A returned error is either ErrThrottled or a hard provider
// failure; malformed model output comes back as a result with Error set.
func (c *Client) EnrichItem(ctx context.Context, content string, itemContext map[string]any) (*EnrichmentResult, error) {
	contextJSON, err := json.Marshal(itemContext)
	if err != nil {
		return nil, fmt.Errorf("marshal item context: %w", err)
	}

	prompt := fmt.Sprintf(promptTemplate, content, string(contextJSON))
	text, err := c.invokeChat(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result := &EnrichmentResult{Context: itemContext, ModelUsed: c.cfg.ModelID}
	enrichment, parseErr := parseEnrichment(text)
	if parseErr != nil {
		result.Error = parseErr.Error()
		return result, nil
	}
	result.Enrichment = enrichment
	return result, nil
}

// parseEnrichment extracts the standardEnrichments block from the model's
// text output.
func parseEnrichment(text string) (*Enrichment, error) {
	body := stripCodeFence(strings.TrimSpace(text))
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return nil, fmt.Errorf("model output is not a JSON object")
	}

	var envelope struct {
		StandardEnrichments *Enrichment     `json:"standardEnrichments"`
		Error               json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	if len(envelope.Error) > 0 {
		return nil, fmt.Errorf("model output carries an error field")
	}
	if envelope.StandardEnrichments == nil {
		return nil, fmt.Errorf("model output missing standardEnrichments")
	}
	return envelope.StandardEnrichments, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence if present.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ValidateResult checks a successful result after the worker has augmented
// its context. The context must identify the item and the enriching model.
func ValidateResult(result *EnrichmentResult) error {
	if result == nil || result.Enrichment == nil {
		return fmt.Errorf("enrichment missing")
	}
	e := result.Enrichment
	if e.Summary == "" {
		return fmt.Errorf("enrichment missing summary")
	}
	if e.Sentiment == "" {
		return fmt.Errorf("enrichment missing sentiment")
	}
	if e.Classification == "" {
		return fmt.Errorf("enrichment missing classification")
	}
	if e.Keywords == nil {
		return fmt.Errorf("enrichment missing keywords")
	}
	if e.Tags == nil {
		return fmt.Errorf("enrichment missing tags")
	}

	if _, ok := result.Context["fullContextId"].(string); !ok {
		return fmt.Errorf("context missing fullContextId")
	}
	if _, ok := result.Context["sourcePath"].(string); !ok {
		return fmt.Errorf("context missing sourcePath")
	}
	prov, ok := result.Context["provenance"].(map[string]any)
	if !ok {
		return fmt.Errorf("context missing provenance")
	}
	if _, ok := prov["modelId"].(string); !ok {
		return fmt.Errorf("context provenance missing modelId")
	}
	return nil
}
