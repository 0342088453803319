// Package openai implements the chat.Completer adapter for an
// OpenAI-compatible chat completion API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

var _ chat.Completer = (*Client)(nil)

// Client talks to an OpenAI-compatible completion endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// New creates a Client. An empty baseURL defaults to the hosted OpenAI API;
// a nil client uses http.DefaultClient semantics with no tuned transport.
func New(baseURL, apiKey, model string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    client,
	}
}

// wireMessage is the upstream message shape. Token counts are local
// bookkeeping and never cross the wire.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model            string             `json:"model"`
	Messages         []wireMessage      `json:"messages"`
	Temperature      float64            `json:"temperature"`
	FrequencyPenalty float64            `json:"frequency_penalty"`
	PresencePenalty  float64            `json:"presence_penalty"`
	MaxTokens        int                `json:"max_tokens,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
	StreamOptions    *wireStreamOptions `json:"stream_options,omitempty"`
	User             string             `json:"user,omitempty"`
}

type wireStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// buildWire assembles the wire request: the system prompt goes first, then
// the (already window-fitted) history in order.
func (c *Client) buildWire(req *chat.CompletionRequest, stream bool) wireRequest {
	msgs := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, wireMessage{Role: string(chat.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	out := wireRequest{
		Model:            c.model,
		Messages:         msgs,
		Temperature:      req.Sampling.Temperature,
		FrequencyPenalty: req.Sampling.FrequencyPenalty,
		PresencePenalty:  req.Sampling.PresencePenalty,
		MaxTokens:        req.Sampling.MaxTokens,
		Stream:           stream,
		User:             req.CallerID,
	}
	if stream {
		out.StreamOptions = &wireStreamOptions{IncludeUsage: true}
	}
	return out
}

func (c *Client) post(ctx context.Context, wire wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransportError(fmt.Errorf("openai: do request: %w", err))
	}
	return resp, nil
}

// Complete sends a non-streaming completion request and returns the reply
// content with the service's own completion-token accounting.
func (c *Client) Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
	resp, err := c.post(ctx, c.buildWire(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(resp)
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, provider.WrapTransportError(fmt.Errorf("openai: decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return nil, provider.WrapTransportError(fmt.Errorf("openai: empty choices"))
	}
	return &chat.CompletionResponse{
		Content:          out.Choices[0].Message.Content,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}
