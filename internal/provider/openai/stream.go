package openai

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/provider"
)

const maxLineSize = 64 * 1024 // 64KB per SSE line

// CompleteStream sends a streaming completion request. Content deltas are
// forwarded as chunks; the completion-token count arrives on the final
// usage-bearing chunk before the "[DONE]" sentinel. The returned channel is
// closed after a Done or error chunk.
func (c *Client) CompleteStream(ctx context.Context, req *chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
	resp, err := c.post(ctx, c.buildWire(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(resp)
	}

	ch := make(chan chat.StreamChunk, 8)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream scans SSE lines from body, translating each data payload into a
// StreamChunk. gjson extracts the delta content and usage without decoding
// the full chunk object.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- chat.StreamChunk) {
	defer close(ch)
	defer body.Close()

	var completionTokens int

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimPrefix(data, " ")
		if data == "[DONE]" {
			ch <- chat.StreamChunk{CompletionTokens: completionTokens, Done: true}
			return
		}

		chunk := chat.StreamChunk{}
		if delta := gjson.Get(data, "choices.0.delta.content"); delta.Exists() {
			chunk.Content = delta.String()
		}
		if usage := gjson.Get(data, "usage.completion_tokens"); usage.Exists() {
			completionTokens = int(usage.Int())
		}
		if chunk.Content == "" {
			continue // role-only or usage-only chunk, nothing to forward
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			ch <- chat.StreamChunk{Err: ctx.Err()}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- chat.StreamChunk{Err: provider.WrapTransportError(fmt.Errorf("openai: read stream: %w", err))}
	}
}
