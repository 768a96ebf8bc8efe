// Package correction sends formula blocks to an external chat model for
// repair and accepts only well-formed answers.
package correction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"mathblocks/internal/logger"
	"mathblocks/internal/normalize"
	"mathblocks/internal/types"
)

const (
	// MaxRetries is the maximum number of retry attempts for model errors
	MaxRetries = 2
	// BaseRetryDelay is the base delay between retries
	BaseRetryDelay = 2 * time.Second
)

const systemPrompt = `You repair LaTeX formulas recovered from documents by automated conversion.
Fix syntax errors, unbalanced braces, wrong commands and broken spacing. Do not change the meaning.
Answer with JSON only, in the form:
{"original": "<input>", "corrected": "<fixed formula>", "changes": [{"position": <int>, "before": "<text>", "after": "<text>"}]}
Keep any $$ delimiters present in the input.`

// Change is one edit reported by the model.
type Change struct {
	Position int    `json:"position"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

// Result is the accepted outcome of one correction.
type Result struct {
	Original  string   `json:"original"`
	Corrected string   `json:"corrected"`
	Changes   []Change `json:"changes"`
	// Applied is false when the response was unusable and the block was
	// left untouched.
	Applied   bool `json:"applied"`
	FromCache bool `json:"from_cache,omitempty"`
}

// Corrector talks to the formula-correction model.
type Corrector struct {
	model      model.BaseChatModel
	cache      *Cache
	retryDelay time.Duration
}

// NewCorrector wraps any eino chat model. cache may be nil.
func NewCorrector(m model.BaseChatModel, cache *Cache) *Corrector {
	return &Corrector{model: m, cache: cache, retryDelay: BaseRetryDelay}
}

// NewOpenAICorrector builds a Corrector backed by an OpenAI-compatible chat
// completion endpoint.
func NewOpenAICorrector(ctx context.Context, cfg *types.Config, cache *Cache) (*Corrector, error) {
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "OpenAI API key is not configured", nil)
	}
	chatModelConfig := &openai.ChatModelConfig{
		Model:  cfg.OpenAIModel,
		APIKey: cfg.OpenAIAPIKey,
	}
	if cfg.OpenAIBaseURL != "" {
		chatModelConfig.BaseURL = cfg.OpenAIBaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, chatModelConfig)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create chat model", err)
	}

	logger.Info("formula corrector ready",
		logger.Component("correction"),
		logger.String("model", cfg.OpenAIModel),
		logger.String("baseURL", cfg.OpenAIBaseURL))

	return NewCorrector(chatModel, cache), nil
}

// Correct asks the model to repair a formula block. Display formulas travel
// wrapped in $$...$$; the delimiters are removed again from the answer. A
// response without a usable "corrected" string leaves the block unchanged.
func (c *Corrector) Correct(ctx context.Context, block types.Block) (types.Block, *Result, error) {
	if block.Kind != types.KindFormula {
		return block, nil, types.NewAppErrorWithDetails(types.ErrInvalidInput, "only formula blocks can be corrected", string(block.Kind), nil)
	}

	payload := block.Content
	if !block.Inline {
		payload = "$$" + block.Content + "$$"
	}

	if c.cache != nil {
		if res, ok := c.cache.Get(payload); ok {
			logger.Debug("correction cache hit", logger.Component("correction"), logger.String("id", block.ID))
			res.FromCache = true
			return apply(block, res), res, nil
		}
	}

	reply, err := c.generate(ctx, payload)
	if err != nil {
		return block, nil, types.NewAppError(types.ErrCorrection, "formula correction failed", err)
	}

	res := parseResponse(block.Content, reply)
	if !res.Applied {
		logger.Warn("discarding malformed correction response",
			logger.Component("correction"),
			logger.String("id", block.ID),
			logger.Int("length", len(reply)))
		return block, res, nil
	}

	if c.cache != nil {
		c.cache.Set(payload, res)
	}

	logger.Info("formula corrected",
		logger.Component("correction"),
		logger.String("id", block.ID),
		logger.Int("changes", len(res.Changes)))

	return apply(block, res), res, nil
}

// generate calls the model, retrying transient failures.
func (c *Corrector) generate(ctx context.Context, payload string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(payload),
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(attempt)
			logger.Debug("retrying correction", logger.Int("attempt", attempt), logger.String("delay", delay.String()))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		msg, err := c.model.Generate(ctx, messages)
		if err == nil {
			return msg.Content, nil
		}
		lastErr = err
		logger.Warn("correction request failed",
			logger.Component("correction"),
			logger.Int("attempt", attempt+1),
			logger.Err(err))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", MaxRetries+1, lastErr)
}

func apply(block types.Block, res *Result) types.Block {
	if !res.Applied || res.Corrected == block.Content {
		return block
	}
	block.Content = res.Corrected
	block.Modified = time.Now()
	return block
}

// parseResponse locates the JSON object in the model text and keeps only
// well-typed fields.
func parseResponse(original, reply string) *Result {
	res := &Result{Original: original, Corrected: original, Changes: []Change{}}

	raw := extractJSON(reply)
	if raw == "" {
		return res
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return res
	}
	corrected, ok := body["corrected"].(string)
	if !ok {
		return res
	}

	res.Corrected = normalize.LaTeX(normalize.StripDelimiters(corrected))
	res.Changes = filterChanges(body["changes"])
	res.Applied = true
	return res
}

// extractJSON returns the outermost {...} span, looking inside code fences.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = rest[:end]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// filterChanges keeps entries with a numeric position and string
// before/after values.
func filterChanges(v any) []Change {
	items, _ := v.([]any)
	changes := make([]Change, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pos, okPos := m["position"].(float64)
		before, okBefore := m["before"].(string)
		after, okAfter := m["after"].(string)
		if !okPos || !okBefore || !okAfter {
			continue
		}
		changes = append(changes, Change{Position: int(pos), Before: before, After: after})
	}
	return changes
}
