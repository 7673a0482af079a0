package shared

import (
	"context"
	"fmt"
	"strings"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
)

// SkillLister reports the registered skills.
type SkillLister interface {
	Skills() []domain.SkillMetadata
}

// Help lists what the assistant can do and the commands it understands.
type Help struct {
	catalog *schema.Catalog
	skills  SkillLister
}

func NewHelp(catalog *schema.Catalog, skills SkillLister) *Help {
	return &Help{catalog: catalog, skills: skills}
}

func (h *Help) Metadata() domain.SkillMetadata {
	return domain.SkillMetadata{
		ID:          domain.SkillHelp,
		Name:        "Help",
		Description: "Lists the records, skills and commands available.",
		Category:    domain.CategoryHelper,
		Tags:        []string{"help", "discovery"},
	}
}

func (h *Help) Initialize(context.Context, *domain.SkillContext) error { return nil }

func (h *Help) Execute(context.Context, domain.SkillInput) (*domain.SkillResult, error) {
	var sb strings.Builder
	sb.WriteString("Here's what I can help with:\n")
	sb.WriteString(Capabilities(h.catalog))
	if ex := example(h.catalog); ex != "" {
		fmt.Fprintf(&sb, "\nJust tell me what you need, e.g. %q.\n", ex)
	}
	sb.WriteString("\nCommands:\n")
	sb.WriteString("/help - show this message\n")
	sb.WriteString("/status - show the question the current form is waiting on\n")
	sb.WriteString("/cancel - stop the current form\n")
	sb.WriteString("/new - forget this conversation's history")

	if h.skills != nil {
		var workflows int
		for _, m := range h.skills.Skills() {
			if m.Category == domain.CategoryWorkflow {
				workflows++
			}
		}
		fmt.Fprintf(&sb, "\n\n%d workflow skills are installed.", workflows)
	}
	return reply(sb.String()), nil
}

func (h *Help) Cleanup(context.Context, *domain.SkillContext) {}
