package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/gate"
	"github.com/eugener/palantir/internal/quota"
	"github.com/eugener/palantir/internal/testutil"
	"github.com/eugener/palantir/internal/truncate"
)

type fakeLedger struct {
	decision  quota.Decision
	remaining int64
	err       error
}

func (f *fakeLedger) Authorize(context.Context, string, bool, int64) (quota.Decision, error) {
	return f.decision, f.err
}

func (f *fakeLedger) RecordUsage(context.Context, string, bool, int64) error { return nil }

func (f *fakeLedger) Remaining(context.Context, string, bool) (int64, error) {
	return f.remaining, f.err
}

type testDeps struct {
	ledger    *fakeLedger
	completer *testutil.FakeCompleter
	sessions  *testutil.MemorySessions
}

func newTestHandler(t *testing.T, mut func(*testDeps)) http.Handler {
	t.Helper()
	d := &testDeps{
		ledger:    &fakeLedger{decision: quota.Decision{Authorized: true, Remaining: 5000}, remaining: 5000},
		completer: &testutil.FakeCompleter{},
		sessions:  testutil.NewMemorySessions(),
	}
	if mut != nil {
		mut(d)
	}
	counter := testutil.WordCounter{}
	g := gate.New(counter, truncate.New(counter, 8192), d.ledger, d.completer, d.sessions, nil, nil)
	return New(Deps{
		Identifier: &testutil.FakeIdentifier{},
		Gate:       g,
		Quota:      d.ledger,
	})
}

func postConverse(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("X-Device-Id", "dev-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestReadyzNotReady(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Identifier: &testutil.FakeIdentifier{},
		ReadyCheck: func(context.Context) error { return errors.New("db down") },
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestConverse(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, nil)

	w := postConverse(t, h, "/v1/converse", `{"content":"hi there"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp converseResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ConversationID == "" {
		t.Error("conversation_id not assigned")
	}
	if resp.Reply.Content != "hello" || resp.Reply.Role != chat.RoleAssistant {
		t.Errorf("reply = %+v", resp.Reply)
	}
	if got := w.Header().Get("X-Request-Id"); got == "" {
		t.Error("X-Request-Id header missing")
	}
}

func TestConverseKeepsConversationID(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, nil)

	w := postConverse(t, h, "/v1/converse", `{"conversation_id":"c-42","content":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp converseResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ConversationID != "c-42" {
		t.Errorf("conversation_id = %q, want c-42", resp.ConversationID)
	}
}

func TestConverseDenied(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, func(d *testDeps) {
		d.ledger.decision = quota.Decision{Reason: chat.DenialDailyLimit}
	})

	w := postConverse(t, h, "/v1/converse", `{"content":"hi"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var resp denialResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reason != string(chat.DenialDailyLimit) {
		t.Errorf("reason = %q", resp.Reason)
	}
	if resp.Message == "" {
		t.Error("denial message empty")
	}
}

func TestConverseBadRequest(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, nil)

	cases := []struct{ name, body string }{
		{"empty content", `{"content":""}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if w := postConverse(t, h, "/v1/converse", tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestConverseUnauthorized(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Identifier: &testutil.FakeIdentifier{Err: chat.ErrUnauthorized},
	})

	w := postConverse(t, h, "/v1/converse", `{"content":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestConverseUpstreamErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"exhausted", chat.ErrUpstreamExhausted, http.StatusServiceUnavailable},
		{"upstream", chat.ErrUpstream, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newTestHandler(t, func(d *testDeps) {
				d.completer.CompleteFn = func(context.Context, *chat.CompletionRequest) (*chat.CompletionResponse, error) {
					return nil, tc.err
				}
			})
			if w := postConverse(t, h, "/v1/converse", `{"content":"hi"}`); w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestQuotaEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, func(d *testDeps) { d.ledger.remaining = 1234 })

	req := httptest.NewRequest(http.MethodGet, "/v1/quota", nil)
	req.Header.Set("X-Device-Id", "dev-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp quotaResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Remaining != 1234 {
		t.Errorf("remaining = %d, want 1234", resp.Remaining)
	}
}

func TestConverseStream(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, func(d *testDeps) {
		d.completer.StreamFn = func(context.Context, *chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
			out := make(chan chat.StreamChunk, 3)
			out <- chat.StreamChunk{Content: "Hel"}
			out <- chat.StreamChunk{Content: "lo"}
			out <- chat.StreamChunk{Done: true, CompletionTokens: 2}
			close(out)
			return out, nil
		}
	})

	w := postConverse(t, h, "/v1/converse/stream", `{"conversation_id":"c-1","content":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var content strings.Builder
	var done bool
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if ev.Done {
			done = true
			if ev.ConversationID != "c-1" {
				t.Errorf("done event conversation_id = %q", ev.ConversationID)
			}
		}
		content.WriteString(ev.Content)
	}
	if !done {
		t.Error("stream never sent done event")
	}
	if content.String() != "Hello" {
		t.Errorf("assembled = %q", content.String())
	}
}

func TestConverseStreamDenied(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, func(d *testDeps) {
		d.ledger.decision = quota.Decision{Reason: chat.DenialLoginRequired}
	})

	w := postConverse(t, h, "/v1/converse/stream", `{"content":"hi"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}
