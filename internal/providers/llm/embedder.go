package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIEmbedder calls the /v1/embeddings endpoint of any OpenAI-compatible
// backend.
type OpenAIEmbedder struct {
	baseProvider
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, timeout time.Duration) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		baseProvider: newBaseProvider(baseURL, apiKey, model, timeout),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": e.model,
		"input": text,
	}
	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}

	resp, err := e.doRequest(ctx, http.MethodPost, "/v1/embeddings", payload, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("empty embedding data: %s", string(data))
	}
	return result.Data[0].Embedding, nil
}
