package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/domain"
)

type mockProvider struct {
	name     string
	chatErr  error
	chatResp *domain.ChatResponse
	calls    int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

type mockStreamer struct {
	mockProvider
	tokens []string
}

func (m *mockStreamer) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	for _, tok := range m.tokens {
		out <- domain.StreamEvent{Type: domain.StreamToken, Content: tok}
	}
	out <- domain.StreamEvent{Type: domain.StreamDone}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func collect(t *testing.T, run func(out chan<- domain.StreamEvent) error) ([]domain.StreamEvent, error) {
	t.Helper()
	out := make(chan domain.StreamEvent, 64)
	err := run(out)
	var events []domain.StreamEvent
	for ev := range out {
		events = append(events, ev)
	}
	return events, err
}

func TestFailoverUsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-primary", resp.Content)
	assert.Equal(t, 0, p2.calls)
}

func TestFailoverFallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-secondary", resp.Content)
}

func TestFailoverAllFailKeepsKind(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", chatErr: domain.NewError(domain.KindCapacity, "busy", nil)}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, domain.KindCapacity, domain.KindOf(err))
}

func TestFailoverStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", chatErr: context.Canceled}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(ctx, domain.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, p2.calls)
}

func TestFailoverEmptyChain(t *testing.T) {
	fp := NewFailover(nil, testLogger())
	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, "failover()", fp.Name())
}

func TestFailoverName(t *testing.T) {
	fp := NewFailover([]domain.Provider{&mockProvider{name: "a"}, &mockProvider{name: "b"}}, testLogger())
	assert.Equal(t, "failover(a,b)", fp.Name())
}

func TestFailoverStreamUsesStreamingProvider(t *testing.T) {
	plain := &mockProvider{name: "plain", chatResp: &domain.ChatResponse{Content: "whole"}}
	streamer := &mockStreamer{mockProvider: mockProvider{name: "streamer"}, tokens: []string{"he", "llo"}}
	fp := NewFailover([]domain.Provider{plain, streamer}, testLogger())

	events, err := collect(t, func(out chan<- domain.StreamEvent) error {
		return fp.ChatStream(context.Background(), domain.ChatRequest{}, out)
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "he", events[0].Content)
	assert.Equal(t, domain.StreamDone, events[2].Type)
	assert.Equal(t, 0, plain.calls)
}

func TestFailoverStreamWithoutStreamers(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("down")}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "whole reply"}}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	events, err := collect(t, func(out chan<- domain.StreamEvent) error {
		return fp.ChatStream(context.Background(), domain.ChatRequest{}, out)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.StreamEvent{Type: domain.StreamToken, Content: "whole reply"}, events[0])
	assert.Equal(t, domain.StreamDone, events[1].Type)
}

func TestFailoverStreamAllFail(t *testing.T) {
	fp := NewFailover([]domain.Provider{&mockProvider{name: "p1", chatErr: errors.New("down")}}, testLogger())

	events, err := collect(t, func(out chan<- domain.StreamEvent) error {
		return fp.ChatStream(context.Background(), domain.ChatRequest{}, out)
	})
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StreamError, events[0].Type)
}
