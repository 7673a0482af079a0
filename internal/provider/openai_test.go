package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/domain"
)

var fastRetry = RetryPolicy{Retries: 2, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Timeout: 5 * time.Second,
		Retry:   fastRetry,
		Logger:  testLogger(),
	})
}

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "test-model",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9}
}`

func writeOpenAIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"server_error"}}`, msg)
}

func TestOpenAIChat(t *testing.T) {
	var got map[string]any
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleSystem, Content: "be brief"}, {Role: domain.RoleUser, Content: "hi"}},
		JSON:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, domain.Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9}, resp.Usage)

	assert.Equal(t, "test-model", got["model"])
	assert.Len(t, got["messages"], 2)
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeOpenAIError(w, http.StatusBadGateway, "upstream down")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIRateLimitIsCapacity(t *testing.T) {
	var calls atomic.Int32
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeOpenAIError(w, http.StatusTooManyRequests, "slow down")
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, domain.KindCapacity, domain.KindOf(err))
	assert.Equal(t, int32(3), calls.Load(), "one call plus two retries")
}

func TestOpenAIClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeOpenAIError(w, http.StatusBadRequest, "bad model")
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, domain.KindExecution, domain.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIChatStream(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"test-model\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	events, err := collect(t, func(out chan<- domain.StreamEvent) error {
		return p.ChatStream(context.Background(), domain.ChatRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}}, out)
	})
	require.NoError(t, err)

	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == domain.StreamToken {
			sb.WriteString(ev.Content)
		}
	}
	assert.Equal(t, "Hello", sb.String())
	assert.Equal(t, domain.StreamDone, events[len(events)-1].Type)
}

func TestOpenAIChatStreamOpenFailure(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		writeOpenAIError(w, http.StatusUnauthorized, "bad key")
	})

	events, err := collect(t, func(out chan<- domain.StreamEvent) error {
		return p.ChatStream(context.Background(), domain.ChatRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}}, out)
	})
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StreamError, events[0].Type)
}
