package shared

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.Builtin(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

type fakeProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []domain.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return &domain.ChatResponse{Content: "ok"}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return &domain.ChatResponse{Content: r}, nil
}

type streamingProvider struct {
	fakeProvider
	tokens []string
}

func (s *streamingProvider) ChatStream(_ context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	for _, tok := range s.tokens {
		out <- domain.StreamEvent{Type: domain.StreamToken, Content: tok}
	}
	out <- domain.StreamEvent{Type: domain.StreamDone}
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Outbound
}

func (r *recordingEmitter) Emit(out domain.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, out)
}

func withContext(sc *domain.SkillContext) context.Context {
	return domain.WithSkillContext(context.Background(), sc)
}

func TestKeywordClassifier(t *testing.T) {
	k := NewKeywordClassifier(testCatalog(t))
	tests := []struct {
		message    string
		intent     string
		op         string
		confidence float64
		entities   map[string]any
	}{
		{"create an account named Acme", "account-crud", "create", 0.9, map[string]any{"name": "Acme"}},
		{"new customer called \"Wayne Enterprises\"", "account-crud", "create", 0.9, map[string]any{"name": "Wayne Enterprises"}},
		{"a deal for Globex please", "opportunity-crud", "create", 0.6, map[string]any{}},
		{"add a contact with email jane@acme.com and phone +1 555 010 2030", "contact-crud", "create", 0.9,
			map[string]any{"email": "jane@acme.com", "phone": "+1 555 010 2030"}},
		{"delete lead id 3f2a9c10", "lead-crud", "delete", 0.9, map[string]any{"id": "3f2a9c10"}},
		{"show me account #abc-123", "account-crud", "read", 0.9, map[string]any{"id": "abc-123"}},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			intent, err := k.Classify(context.Background(), tt.message, nil)
			require.NoError(t, err)
			require.NotNil(t, intent)
			assert.Equal(t, "sales", intent.Domain)
			assert.Equal(t, tt.intent, intent.Label)
			assert.Equal(t, tt.op, intent.Operation)
			assert.InDelta(t, tt.confidence, intent.Confidence, 1e-9)
			assert.Equal(t, tt.entities, intent.Entities)
			assert.Equal(t, StrategyKeyword, intent.Strategy)
		})
	}
}

func TestKeywordClassifierNoMatch(t *testing.T) {
	k := NewKeywordClassifier(testCatalog(t))
	for _, msg := range []string{"", "hello there", "what's the weather like?"} {
		intent, err := k.Classify(context.Background(), msg, nil)
		require.NoError(t, err)
		assert.Nil(t, intent, msg)
	}
}

func TestExtractEntitiesSkipsDates(t *testing.T) {
	got := ExtractEntities("closing on 2026-12-31", schema.OpCreate)
	assert.NotContains(t, got, "phone")
}

func TestLLMClassifier(t *testing.T) {
	catalog := testCatalog(t)
	p := &fakeProvider{replies: []string{
		"Sure!\n```json\n{\"intent\":\"lead-crud\",\"operation\":\"UPDATE\",\"confidence\":0.8,\"entities\":{\"company\":\"Hooli\"}}\n```",
	}}
	l := NewLLMClassifier(catalog, "small", testLogger())

	intent, err := l.Classify(context.Background(), "Hooli is now the lead's company", p)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "lead-crud", intent.Label)
	assert.Equal(t, "update", intent.Operation)
	assert.Equal(t, "Hooli", intent.Entities["company"])
	assert.Equal(t, StrategyLLM, intent.Strategy)

	require.Len(t, p.requests, 1)
	assert.True(t, p.requests[0].JSON)
	assert.Equal(t, "small", p.requests[0].Model)
	assert.Contains(t, p.requests[0].Messages[0].Content, "- account-crud: Account records")
}

func TestLLMClassifierRejectsUnknownIntent(t *testing.T) {
	l := NewLLMClassifier(testCatalog(t), "", testLogger())
	for _, content := range []string{`{"intent":"weather"}`, `{"intent":""}`, "no idea"} {
		intent, err := l.Classify(context.Background(), "hi", &fakeProvider{replies: []string{content}})
		require.NoError(t, err)
		assert.Nil(t, intent, content)
	}
	intent, err := l.Classify(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestHybridClassifier(t *testing.T) {
	catalog := testCatalog(t)
	h := NewClassifier(StrategyHybrid, catalog, "", testLogger())

	p := &fakeProvider{replies: []string{`{"intent":"contact-crud","operation":"create","confidence":0.7}`}}
	intent, err := h.Classify(context.Background(), "create an account named Acme", p)
	require.NoError(t, err)
	assert.Equal(t, StrategyKeyword, intent.Strategy)
	assert.Empty(t, p.requests, "keyword hit skips the provider")

	intent, err = h.Classify(context.Background(), "I met Jane at the conference", p)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "contact-crud", intent.Label)
	assert.Equal(t, StrategyHybrid, intent.Strategy)

	failing := &fakeProvider{err: errors.New("boom")}
	intent, err = h.Classify(context.Background(), "I met Jane at the conference", failing)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestIntentDetectorSkill(t *testing.T) {
	d := NewIntentDetector(NewKeywordClassifier(testCatalog(t)), testLogger())
	ctx := withContext(&domain.SkillContext{ConversationID: "c1"})

	res, err := d.Execute(ctx, domain.SkillInput{Message: "create an account named Acme"})
	require.NoError(t, err)
	intent, ok := res.Data.(*domain.Intent)
	require.True(t, ok)
	assert.Equal(t, "workflow:account-crud", intent.SkillID())

	res, err = d.Execute(ctx, domain.SkillInput{Message: "good morning"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Data)
}

func TestConversationOffline(t *testing.T) {
	catalog := testCatalog(t)
	c := NewConversation(catalog, NewPromptBuilder(catalog, "", ""), nil, ConversationOptions{}, testLogger())

	res, err := c.Execute(withContext(&domain.SkillContext{}), domain.SkillInput{Message: "hello"})
	require.NoError(t, err)
	text := res.Data.(domain.Reply).Text()
	assert.True(t, strings.HasPrefix(text, "I'm not sure how to help with that."))
	assert.Contains(t, text, "- Account (create, update, delete, read)")
	assert.Contains(t, text, `Try something like "create an account named Acme".`)
}

func TestConversationUnroutedIntent(t *testing.T) {
	catalog := testCatalog(t)
	p := &fakeProvider{}
	c := NewConversation(catalog, NewPromptBuilder(catalog, "", ""), nil, ConversationOptions{}, testLogger())
	sc := &domain.SkillContext{
		Env:    &domain.Environment{Provider: p},
		Shared: map[string]any{domain.SharedUnroutedIntent: &domain.Intent{Label: "opportunity-crud", Operation: "delete"}},
	}

	res, err := c.Execute(withContext(sc), domain.SkillInput{Message: "delete the deal"})
	require.NoError(t, err)
	text := res.Data.(domain.Reply).Text()
	assert.True(t, strings.HasPrefix(text, "I understood that you want to delete an opportunity, but I can't do that yet."))
	assert.Empty(t, p.requests)
}

func TestConversationChat(t *testing.T) {
	catalog := testCatalog(t)
	p := &fakeProvider{replies: []string{"Assistant: Hi! How can I help?"}}
	c := NewConversation(catalog, NewPromptBuilder(catalog, StyleConcise, "Be kind."), nil, ConversationOptions{Model: "m", MaxTokens: 64}, testLogger())
	sc := &domain.SkillContext{
		Env:     &domain.Environment{Provider: p},
		History: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
	}

	res, err := c.Execute(withContext(sc), domain.SkillInput{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help?", res.Data.(domain.Reply).Text())

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, 64, req.MaxTokens)
	require.Len(t, req.Messages, 2, "current message is not repeated")
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Keep responses short")
	assert.Contains(t, req.Messages[0].Content, "## Custom Instructions\nBe kind.")
}

func TestConversationStreams(t *testing.T) {
	catalog := testCatalog(t)
	p := &streamingProvider{tokens: []string{"Hel", "lo", "!"}}
	emitter := &recordingEmitter{}
	c := NewConversation(catalog, NewPromptBuilder(catalog, "", ""), nil, ConversationOptions{}, testLogger())
	sc := &domain.SkillContext{Env: &domain.Environment{Provider: p}, Emit: emitter}

	res, err := c.Execute(withContext(sc), domain.SkillInput{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", res.Data.(domain.Reply).Text())

	require.Len(t, emitter.events, 3)
	for i, tok := range []string{"Hel", "lo", "!"} {
		assert.Equal(t, domain.EventStream, emitter.events[i].Type)
		assert.Equal(t, tok, emitter.events[i].Delta)
	}
}

func TestConversationProviderFailure(t *testing.T) {
	catalog := testCatalog(t)
	p := &fakeProvider{err: domain.NewError(domain.KindCapacity, "rate limited", nil)}
	c := NewConversation(catalog, NewPromptBuilder(catalog, "", ""), nil, ConversationOptions{}, testLogger())

	_, err := c.Execute(withContext(&domain.SkillContext{Env: &domain.Environment{Provider: p}}), domain.SkillInput{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, domain.KindCapacity, domain.KindOf(err))
}

func TestCompactor(t *testing.T) {
	p := &fakeProvider{replies: []string{"they talked about Acme"}}
	c := NewCompactor(20, testLogger())

	msgs := []domain.ChatMessage{{Role: domain.RoleSystem, Content: "system"}}
	for i := 0; i < 8; i++ {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: strings.Repeat("word ", 10)})
	}
	out := c.Compact(context.Background(), p, msgs)
	require.Len(t, out, 2+minRecentMessages)
	assert.Equal(t, "system", out[0].Content)
	assert.Equal(t, "[Conversation Summary]\nthey talked about Acme", out[1].Content)

	short := msgs[:3]
	assert.Equal(t, short, c.Compact(context.Background(), p, short))

	failing := &fakeProvider{err: errors.New("down")}
	assert.Equal(t, msgs, c.Compact(context.Background(), failing, msgs))
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONObject(`{"a":1}`))
	assert.Equal(t, `{"a":"}"}`, extractJSONObject("prefix {\"a\":\"}\"} suffix"))
	assert.Equal(t, `{"a":{"b":2}}`, extractJSONObject("```json\n{\"a\":{\"b\":2}}\n```"))
	assert.Empty(t, extractJSONObject("no json here"))
	assert.Equal(t, `{"a":"50%"}`, sanitizeJSONEscapes(`{"a":"50\%"}`))
}

func TestHelp(t *testing.T) {
	catalog := testCatalog(t)
	h := NewHelp(catalog, lister{{ID: "workflow:account-crud", Category: domain.CategoryWorkflow}, {ID: "help", Category: domain.CategoryHelper}})
	res, err := h.Execute(context.Background(), domain.SkillInput{})
	require.NoError(t, err)
	text := res.Data.(domain.Reply).Text()
	assert.Contains(t, text, "Sales: Accounts, contacts, leads and opportunities.")
	assert.Contains(t, text, "/cancel - stop the current form")
	assert.Contains(t, text, "1 workflow skills are installed.")
}

type lister []domain.SkillMetadata

func (l lister) Skills() []domain.SkillMetadata { return l }
