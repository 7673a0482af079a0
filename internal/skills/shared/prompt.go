package shared

import (
	"fmt"
	"strings"
	"time"

	"skillbot/internal/schema"
)

// Reply styles.
const (
	StyleConcise  = "concise"
	StyleNormal   = "normal"
	StyleDetailed = "detailed"
)

// PromptBuilder writes the system prompt of the conversation skill.
type PromptBuilder struct {
	catalog *schema.Catalog
	style   string
	extra   string
	now     func() time.Time
}

func NewPromptBuilder(catalog *schema.Catalog, style, extra string) *PromptBuilder {
	if style == "" {
		style = StyleNormal
	}
	return &PromptBuilder{catalog: catalog, style: style, extra: extra, now: time.Now}
}

// SystemPrompt describes the assistant, the records it can manage and how the
// user asks for them.
func (p *PromptBuilder) SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(`# Skillbot

You are Skillbot, an assistant that helps the user manage business records through conversation.

## Current Time
`)
	sb.WriteString(p.now().Format("2006-01-02 15:04 (Monday)"))
	sb.WriteString("\n\n## Records you can manage\n")
	sb.WriteString(Capabilities(p.catalog))
	sb.WriteString(`
## RULES
1. You cannot change records yourself in this reply. When the user wants to create, update, delete or look up a record, tell them the exact phrase to use, e.g. "create an account named Acme".
2. Never claim a record was saved unless the conversation shows it.
3. Respond in the same language the user writes in.`)

	switch p.style {
	case StyleConcise:
		sb.WriteString("\n\n## Style\nKeep responses short and direct. One-line answers when possible.")
	case StyleDetailed:
		sb.WriteString("\n\n## Style\nGive thorough, step-by-step explanations.")
	default:
		sb.WriteString("\n\n## Style\nBalance clarity with brevity.")
	}
	if p.extra != "" {
		sb.WriteString("\n\n## Custom Instructions\n" + p.extra)
	}
	return sb.String()
}

// Capabilities lists each domain with its entities and supported operations.
func Capabilities(catalog *schema.Catalog) string {
	var sb strings.Builder
	for _, d := range catalog.Domains() {
		fmt.Fprintf(&sb, "%s", capitalize(d.Name))
		if d.Description != "" {
			fmt.Fprintf(&sb, ": %s", d.Description)
		}
		sb.WriteString("\n")
		for _, e := range d.Entities {
			var ops []string
			for _, op := range schema.Operations {
				if e.Supports(op) {
					ops = append(ops, string(op))
				}
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", e.DisplayLabel(), strings.Join(ops, ", "))
		}
	}
	return sb.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
