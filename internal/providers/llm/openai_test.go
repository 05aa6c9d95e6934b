package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/core"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAICompatible {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAICompatible(OpenAICompatibleConfig{
		BaseURL:            srv.URL,
		APIKey:             "test-key",
		Model:              "test-model",
		AuthHeader:         "Authorization",
		AuthPrefix:         "Bearer ",
		Timeout:            5 * time.Second,
		MaxTokens:          512,
		SummaryTemperature: 0.3,
	})
}

func toolCallResponse(args string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"tool_calls": []map[string]any{{
					"function": map[string]any{
						"name":      "emit_script",
						"arguments": args,
					},
				}},
			},
		}},
		"usage": map[string]int{
			"prompt_tokens":     120,
			"completion_tokens": 40,
			"total_tokens":      160,
		},
	}
}

func TestGenerate_ParsesToolCall(t *testing.T) {
	var gotReq map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(toolCallResponse(
			`{"script":[{"type":"narration","content":"Rain fell."},{"type":"interaction","content":"What now?","choice_id":"c1"}],"state_delta":{"deviation_delta":0.04,"affinity_changes":{"npc_iris":2}}}`))
	})

	gen, err := p.Generate(context.Background(), core.PromptBundle{
		Instructions: "be a narrator",
		PlayerChoice: "open the door",
	}, 0.7, 0)
	require.NoError(t, err)

	require.Len(t, gen.Script, 2)
	assert.Equal(t, core.UnitNarration, gen.Script[0].Type)
	assert.Equal(t, "c1", gen.Script[1].ChoiceID)
	assert.InDelta(t, 0.04, gen.Delta.DeviationDelta, 1e-9)
	assert.Equal(t, 2, gen.Delta.Affinity["npc_iris"])
	assert.Equal(t, 160, gen.Usage.TotalTokens)

	assert.Equal(t, "test-model", gotReq["model"])
	assert.InDelta(t, 0.7, gotReq["temperature"].(float64), 1e-9)
	assert.EqualValues(t, 512, gotReq["max_tokens"])
	msgs := gotReq["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].(map[string]any)["content"], "open the door")
}

func TestGenerate_PlainJSONContentFallback(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": `{"script":[{"type":"narration","content":"ok"}]}`,
				},
			}},
		})
	})

	gen, err := p.Generate(context.Background(), core.PromptBundle{}, 0.5, 100)
	require.NoError(t, err)
	require.Len(t, gen.Script, 1)
	assert.Equal(t, "ok", gen.Script[0].Content)
}

func TestGenerate_MalformedScript(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"not json", "this is prose, not a script"},
		{"empty script", `{"script":[]}`},
		{"no payload", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(toolCallResponse(tt.args))
			})
			_, err := p.Generate(context.Background(), core.PromptBundle{}, 0.5, 100)
			assert.True(t, errors.Is(err, core.ErrSchemaViolation), "got %v", err)
		})
	}
}

func TestGenerate_HTTPError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})
	_, err := p.Generate(context.Background(), core.PromptBundle{}, 0.5, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 429")
	assert.False(t, errors.Is(err, core.ErrSchemaViolation))
}

func TestSummarize(t *testing.T) {
	var gotReq map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "  a tight summary \n"},
			}},
		})
	})

	out, err := p.Summarize(context.Background(), "long history text")
	require.NoError(t, err)
	assert.Equal(t, "a tight summary", out)
	assert.InDelta(t, 0.3, gotReq["temperature"].(float64), 1e-9)
}

func TestEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "k", "embed-model", 5*time.Second)
	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}
