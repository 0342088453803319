package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chat "github.com/eugener/palantir/internal"
)

func testRequest() *chat.CompletionRequest {
	return &chat.CompletionRequest{
		SystemPrompt: "be brief",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "hello", TokenCount: 1},
		},
		Sampling: chat.SamplingParams{Temperature: 0.9, MaxTokens: 400},
		CallerID: "u1",
	}
}

func TestCompleteSendsSystemPromptFirst(t *testing.T) {
	t.Parallel()
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "gpt-3.5-turbo", nil)
	resp, err := c.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "hi" || resp.CompletionTokens != 7 {
		t.Errorf("resp = %+v, want content hi, 7 tokens", resp)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be brief" {
		t.Errorf("wire messages = %+v, want system prompt first", got.Messages)
	}
	if got.Model != "gpt-3.5-turbo" || got.User != "u1" || got.MaxTokens != 400 {
		t.Errorf("wire params = %+v", got)
	}
}

func TestCompleteRateLimitedMapsToUpstreamExhausted(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "gpt-3.5-turbo", nil)
	_, err := c.Complete(context.Background(), testRequest())
	if !errors.Is(err, chat.ErrUpstreamExhausted) {
		t.Errorf("err = %v, want ErrUpstreamExhausted", err)
	}
	if errors.Is(err, chat.ErrUpstream) {
		t.Error("429 must not also match the generic upstream sentinel")
	}
}

func TestCompleteServerErrorMapsToUpstream(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "gpt-3.5-turbo", nil)
	_, err := c.Complete(context.Background(), testRequest())
	if !errors.Is(err, chat.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestCompleteStream(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
				"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":2}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "gpt-3.5-turbo", nil)
	ch, err := c.CompleteStream(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}

	var content string
	var final chat.StreamChunk
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatal(chunk.Err)
		}
		if chunk.Done {
			final = chunk
			break
		}
		content += chunk.Content
	}

	if content != "Hello" {
		t.Errorf("streamed content = %q, want Hello", content)
	}
	if !final.Done || final.CompletionTokens != 2 {
		t.Errorf("final chunk = %+v, want Done with 2 completion tokens", final)
	}
}
