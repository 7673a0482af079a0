package shared

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
)

// ConversationOptions tunes the provider requests of the conversation skill.
type ConversationOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Conversation is the fallback skill for turns no workflow claims. With a
// provider it chats, streaming when the provider can; without one it explains
// what the assistant can do.
type Conversation struct {
	catalog   *schema.Catalog
	prompts   *PromptBuilder
	compactor *Compactor
	opts      ConversationOptions
	logger    *slog.Logger
}

func NewConversation(catalog *schema.Catalog, prompts *PromptBuilder, compactor *Compactor, opts ConversationOptions, logger *slog.Logger) *Conversation {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Conversation{
		catalog:   catalog,
		prompts:   prompts,
		compactor: compactor,
		opts:      opts,
		logger:    logger,
	}
}

func (c *Conversation) Metadata() domain.SkillMetadata {
	return domain.SkillMetadata{
		ID:          domain.SkillConversation,
		Name:        "Conversation",
		Description: "Open-ended chat for messages that match no workflow.",
		Category:    domain.CategoryShared,
		Tags:        []string{"chat", "fallback"},
	}
}

func (c *Conversation) Initialize(context.Context, *domain.SkillContext) error { return nil }

func (c *Conversation) Execute(ctx context.Context, input domain.SkillInput) (*domain.SkillResult, error) {
	sc := domain.SkillContextFrom(ctx)

	if intent, ok := sc.Shared[domain.SharedUnroutedIntent].(*domain.Intent); ok && intent != nil {
		return reply(c.unrouted(intent)), nil
	}

	provider := sc.Provider()
	if provider == nil {
		return reply(Offline(c.catalog)), nil
	}

	req := domain.ChatRequest{
		Model:       c.opts.Model,
		Messages:    c.messages(sc, input.Message),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}
	if c.compactor != nil {
		req.Messages = c.compactor.Compact(ctx, provider, req.Messages)
	}

	var (
		text string
		err  error
	)
	if sp, ok := provider.(domain.StreamingProvider); ok && sc.Emit != nil {
		text, err = c.stream(ctx, sp, req, sc.Emit)
	} else {
		var resp *domain.ChatResponse
		resp, err = provider.Chat(ctx, req)
		if resp != nil {
			text = resp.Content
		}
	}
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(stripRolePrefix(text))
	if text == "" {
		return nil, domain.Execution("conversation reply", fmt.Errorf("provider %s returned an empty reply", provider.Name()))
	}
	return reply(text), nil
}

func (c *Conversation) Cleanup(context.Context, *domain.SkillContext) {}

// messages builds system prompt, transcript and the current message. The
// transcript normally already ends with the current message.
func (c *Conversation) messages(sc *domain.SkillContext, current string) []domain.ChatMessage {
	msgs := []domain.ChatMessage{{Role: domain.RoleSystem, Content: c.prompts.SystemPrompt()}}
	msgs = append(msgs, domain.ToChatMessages(sc.History)...)
	last := len(sc.History) - 1
	if current != "" && (last < 0 || sc.History[last].Role != domain.RoleUser || sc.History[last].Content != current) {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: current})
	}
	return msgs
}

func (c *Conversation) stream(ctx context.Context, sp domain.StreamingProvider, req domain.ChatRequest, emit domain.Emitter) (string, error) {
	events := make(chan domain.StreamEvent, 32)
	errc := make(chan error, 1)
	go func() { errc <- sp.ChatStream(ctx, req, events) }()

	var (
		sb        strings.Builder
		streamErr string
	)
	for ev := range events {
		switch ev.Type {
		case domain.StreamToken:
			sb.WriteString(ev.Content)
			emit.Emit(domain.Outbound{Type: domain.EventStream, Delta: ev.Content})
		case domain.StreamError:
			streamErr = ev.Content
		}
	}
	if err := <-errc; err != nil {
		return "", err
	}
	if streamErr != "" {
		return "", domain.NewError(domain.ClassifyText(streamErr), "stream reply", fmt.Errorf("%s", streamErr))
	}
	return sb.String(), nil
}

func (c *Conversation) unrouted(intent *domain.Intent) string {
	label := intent.Label
	for _, d := range c.catalog.Domains() {
		if e, ok := d.EntityByIntent(intent.Label); ok {
			label = strings.ToLower(e.DisplayLabel())
			break
		}
	}
	op := intent.Operation
	if op == "" {
		op = string(schema.OpCreate)
	}
	return fmt.Sprintf("I understood that you want to %s %s %s, but I can't do that yet.\n\nHere's what I can help with:\n%s",
		verb(op), article(label), label, Capabilities(c.catalog))
}

// Offline is the reply used when no language model is configured.
func Offline(catalog *schema.Catalog) string {
	var sb strings.Builder
	sb.WriteString("I'm not sure how to help with that. Here's what I can do:\n")
	sb.WriteString(Capabilities(catalog))
	if ex := example(catalog); ex != "" {
		fmt.Fprintf(&sb, "\nTry something like %q.", ex)
	}
	return sb.String()
}

func example(catalog *schema.Catalog) string {
	for _, d := range catalog.Domains() {
		for _, e := range d.Entities {
			label := strings.ToLower(e.DisplayLabel())
			return fmt.Sprintf("create %s %s named Acme", article(label), label)
		}
	}
	return ""
}

func verb(op string) string {
	if op == string(schema.OpRead) {
		return "look up"
	}
	return op
}

func article(word string) string {
	if word != "" && strings.ContainsRune("aeiou", rune(word[0])) {
		return "an"
	}
	return "a"
}

func reply(text string) *domain.SkillResult {
	return &domain.SkillResult{Success: true, Data: domain.Reply{Message: text}}
}
