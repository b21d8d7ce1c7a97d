// Package llm provides the model-call capabilities the core consumes:
// a structured-output classification call and a plain chat completion.
//
// Both are served by any OpenAI-compatible endpoint. The core never depends
// on prompt content or token accounting; it only needs a structured object
// back from Classify and text back from Chat.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// StructuredClient is the classification capability: invoke a model with a
// system prompt, user prompt, and JSON schema, and get a structured object.
type StructuredClient interface {
	Classify(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}) (json.RawMessage, error)
}

// ChatClient is the plain completion capability used by chat-style agents.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []models.ChatMessage) (string, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewClient creates a model client. model is the default model id used when
// the request does not name one.
func NewClient(endpoint, apiKey, model string) *Client {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []models.ChatMessage `json:"messages"`
	ResponseFormat interface{}          `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify runs a structured-output completion and returns the raw JSON
// object the model produced.
func (c *Client) Classify(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}) (json.RawMessage, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []models.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	if schema != nil {
		req.ResponseFormat = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "classification",
				"schema": schema,
				"strict": true,
			},
		}
	}

	content, err := c.complete(ctx, &req)
	if err != nil {
		return nil, err
	}

	// The content must itself be a JSON object.
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("classifier returned non-JSON content: %w", err)
	}
	return raw, nil
}

// Chat runs a plain chat completion.
func (c *Client) Chat(ctx context.Context, model string, messages []models.ChatMessage) (string, error) {
	if model == "" {
		model = c.model
	}
	return c.complete(ctx, &chatRequest{Model: model, Messages: messages})
}

func (c *Client) complete(ctx context.Context, req *chatRequest) (string, error) {
	body, _ := json.Marshal(req)

	url := c.endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("model endpoint status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	log.Debug().Str("model", req.Model).Msg("Model call complete")
	return resp.Choices[0].Message.Content, nil
}
