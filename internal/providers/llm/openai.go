package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/storyloom/storyloom/internal/core"
)

// emitScriptTool forces the model to answer with a structured turn: the
// script units plus the proposed state delta.
var emitScriptTool = map[string]any{
	"type": "function",
	"function": map[string]any{
		"name":        "emit_script",
		"description": "Emit the next story turn as a script with a state delta.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"script": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"type":          map[string]any{"type": "string", "enum": []string{"narration", "dialogue", "interaction"}},
							"content":       map[string]any{"type": "string"},
							"speaker":       map[string]any{"type": "string"},
							"choice_id":     map[string]any{"type": "string"},
							"default_reply": map[string]any{"type": "string"},
						},
						"required": []string{"type", "content"},
					},
				},
				"state_delta": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"deviation_delta":   map[string]any{"type": "number"},
						"affinity_changes":  map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "integer"}},
						"flags_updates":     map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "boolean"}},
						"variables_updates": map[string]any{"type": "object"},
					},
				},
			},
			"required": []string{"script"},
		},
	},
}

type OpenAICompatible struct {
	baseProvider
	authHeader         string
	authPrefix         string
	extraHeaders       map[string]string
	maxTokens          int
	summaryTemperature float64
}

type OpenAICompatibleConfig struct {
	BaseURL            string
	APIKey             string
	Model              string
	AuthHeader         string // e.g., "Authorization"
	AuthPrefix         string // e.g., "Bearer "
	ExtraHeaders       map[string]string
	Timeout            time.Duration
	MaxTokens          int
	SummaryTemperature float64
}

func NewOpenAICompatible(cfg OpenAICompatibleConfig) *OpenAICompatible {
	return &OpenAICompatible{
		baseProvider:       newBaseProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout),
		authHeader:         cfg.AuthHeader,
		authPrefix:         cfg.AuthPrefix,
		extraHeaders:       cfg.ExtraHeaders,
		maxTokens:          cfg.MaxTokens,
		summaryTemperature: cfg.SummaryTemperature,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAICompatible) headers() map[string]string {
	headers := make(map[string]string)
	if o.authHeader != "" && o.apiKey != "" {
		headers[o.authHeader] = o.authPrefix + o.apiKey
	}
	for k, v := range o.extraHeaders {
		headers[k] = v
	}
	return headers
}

func (o *OpenAICompatible) Generate(ctx context.Context, bundle core.PromptBundle, temperature float64, maxTokens int) (*core.Generation, error) {
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	payload := map[string]any{
		"model":       o.model,
		"messages":    buildMessages(bundle),
		"temperature": temperature,
		"max_tokens":  maxTokens,
		"tools":       []any{emitScriptTool},
		"tool_choice": map[string]any{
			"type":     "function",
			"function": map[string]any{"name": "emit_script"},
		},
	}

	resp, err := o.doRequest(ctx, http.MethodPost, "/v1/chat/completions", payload, o.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return parseGeneration(resp)
}

func (o *OpenAICompatible) Summarize(ctx context.Context, text string) (string, error) {
	payload := map[string]any{
		"model": o.model,
		"messages": []chatMessage{
			{Role: "system", Content: "You compress interactive fiction history into compact factual summaries."},
			{Role: "user", Content: text},
		},
		"temperature": o.summaryTemperature,
	}

	resp, err := o.doRequest(ctx, http.MethodPost, "/v1/chat/completions", payload, o.headers())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices: %s", string(data))
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func buildMessages(bundle core.PromptBundle) []chatMessage {
	var user strings.Builder
	if bundle.Memory != "" {
		user.WriteString(bundle.Memory)
		user.WriteString("\n\n")
	}
	if bundle.State != "" {
		user.WriteString("Current state:\n")
		user.WriteString(bundle.State)
		user.WriteString("\n\n")
	}
	if bundle.Context != "" {
		user.WriteString("Source narrative:\n")
		user.WriteString(bundle.Context)
		user.WriteString("\n\n")
	}
	if bundle.AnchorInfo != nil && bundle.AnchorInfo.Brief != "" {
		user.WriteString("Scene brief: ")
		user.WriteString(bundle.AnchorInfo.Brief)
		user.WriteString("\n\n")
	}
	if bundle.PlayerChoice != "" {
		user.WriteString("Player: ")
		user.WriteString(bundle.PlayerChoice)
	}

	return []chatMessage{
		{Role: "system", Content: bundle.Instructions},
		{Role: "user", Content: user.String()},
	}
}

func parseGeneration(resp *http.Response) (*core.Generation, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("empty choices: %s", string(data))
	}

	msg := result.Choices[0].Message
	args := ""
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "emit_script" {
			args = tc.Function.Arguments
			break
		}
	}
	// Some compatible backends ignore tool_choice and answer with plain
	// JSON content instead.
	if args == "" {
		args = msg.Content
	}
	if strings.TrimSpace(args) == "" {
		return nil, fmt.Errorf("%w: no script in response", core.ErrSchemaViolation)
	}

	var turn struct {
		Script     []core.ScriptUnit `json:"script"`
		StateDelta core.StateDelta   `json:"state_delta"`
	}
	if err := json.Unmarshal([]byte(args), &turn); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSchemaViolation, err)
	}
	if len(turn.Script) == 0 {
		return nil, fmt.Errorf("%w: empty script", core.ErrSchemaViolation)
	}

	return &core.Generation{
		Script: turn.Script,
		Delta:  turn.StateDelta,
		Usage: core.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}, nil
}
