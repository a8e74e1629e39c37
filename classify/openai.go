package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clipdex/clipdex/errors"
)

// DefaultModel is the fallback model when none is specified
const DefaultModel = "gpt-4o-mini"

// Client is an OpenAI-compatible chat-completions client that
// classifies a whole batch of videos in a single call. One call
// classifies many items, which is what makes large jobs affordable
// against a rate-limited backend.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	limiter     *Limiter
	logger      *zap.SugaredLogger
}

// ClientConfig holds classification client configuration
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration      // per-call bound; a timed-out batch is a gateway failure
	CallsPerMinute int                // local rate gate (0 = 60)
	Logger         *zap.SugaredLogger // nil = nop logger
}

// NewClient creates a classification client with clipdex defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.CallsPerMinute == 0 {
		cfg.CallsPerMinute = 60
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     NewLimiter(cfg.CallsPerMinute),
		logger:      logger,
	}
}

// Limiter exposes the client's rate gate for stats reporting.
func (c *Client) Limiter() *Limiter {
	return c.limiter
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// batchEnvelope is the JSON shape the model is instructed to return.
type batchEnvelope struct {
	Results []Result `json:"results"`
}

// Classify sends one chat-completion call covering all items and
// returns one result per item, in input order. The returned slice is
// padded with failure results if the model returns fewer entries than
// items, and truncated if it returns more.
func (c *Client) Classify(ctx context.Context, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait cancelled")
	}

	start := time.Now()
	c.logger.Infow("Classifying batch",
		"items", len(items),
		"model", c.model)

	reqBody := chatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt()},
			{Role: "user", Content: batchPrompt(items)},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal classification request")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build classification request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "classification call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read classification response")
	}

	if resp.StatusCode != http.StatusOK {
		err := errors.Newf("classification backend returned status %d", resp.StatusCode)
		err = errors.WithDetail(err, fmt.Sprintf("Response body: %.500s", raw))
		return nil, err
	}

	var cc chatCompletionResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, errors.Wrap(err, "failed to decode classification response")
	}
	if cc.Error != nil {
		return nil, errors.Newf("classification backend error: %s", cc.Error.Message)
	}
	if len(cc.Choices) == 0 {
		return nil, errors.New("no choices in classification response")
	}

	results, err := parseBatchContent(cc.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	results = alignResults(results, len(items))
	for i := range results {
		results[i] = Normalize(results[i])
	}

	c.logger.Infow("Classified batch",
		"items", len(items),
		"elapsed_ms", time.Since(start).Milliseconds())
	return results, nil
}

// parseBatchContent decodes the model's JSON, tolerating markdown code
// fences around the payload.
func parseBatchContent(content string) ([]Result, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var envelope batchEnvelope
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to parse classification results")
	}
	return envelope.Results, nil
}

// alignResults pads or truncates results to exactly n entries.
func alignResults(results []Result, n int) []Result {
	if len(results) > n {
		return results[:n]
	}
	for len(results) < n {
		results = append(results, Result{
			Success: false,
			Error:   "no result returned for item",
		})
	}
	return results
}

func systemPrompt() string {
	return fmt.Sprintf(`You are an expert video content analyzer. Your task is to categorize videos and generate relevant tags.

Available categories: %s

Rules:
1. Choose 1-2 primary categories that best describe each video
2. Optionally add 0-2 secondary categories
3. Generate EXACTLY %d most relevant and specific tags per video (no more, no less)
4. Tags should be lowercase, specific topics/concepts (e.g., "machine learning", "recipe", "tutorial")
5. Assign a confidence score (0.0-1.0) based on how clear the video's content is
6. Use only categories from the available list
7. Set "success" to true for every video you classify

Respond with a JSON object of the form:
{"results": [{"success": true, "primary_categories": [...], "secondary_categories": [...], "tags": [...], "confidence": 0.9}, ...]}

Return one result per video, in the same order as the input.`,
		strings.Join(Categories, ", "), MaxTags)
}

func batchPrompt(items []Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify the following %d videos:\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "\nVideo %d:\n", i+1)
		fmt.Fprintf(&b, "**Title:** %s\n", item.Title)
		if item.Channel != "" {
			fmt.Fprintf(&b, "**Channel:** %s\n", item.Channel)
		}
		if item.DurationSec > 0 {
			fmt.Fprintf(&b, "**Duration:** %s\n", formatDuration(item.DurationSec))
		}
		if item.Description != "" {
			desc := item.Description
			// Bound description length to keep batch prompts inside token limits
			if len(desc) > 500 {
				desc = desc[:500] + "..."
			}
			fmt.Fprintf(&b, "**Description:** %s\n", desc)
		}
	}
	return b.String()
}

func formatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
