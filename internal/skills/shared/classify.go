// Package shared holds the skills every deployment registers regardless of
// its domains: intent detection, open conversation and help.
package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
)

// Classification strategies.
const (
	StrategyKeyword = "keyword"
	StrategyLLM     = "llm"
	StrategyHybrid  = "hybrid"
)

// Confidence levels reported by the keyword classifier.
const (
	confidenceWithVerb    = 0.9
	confidenceDefaultVerb = 0.6
)

// Classifier maps a message to an intent. A nil intent means nothing matched.
type Classifier interface {
	Classify(ctx context.Context, message string, provider domain.Provider) (*domain.Intent, error)
}

var operationVerbs = map[string]schema.Operation{
	"create": schema.OpCreate, "add": schema.OpCreate, "new": schema.OpCreate, "register": schema.OpCreate,
	"update": schema.OpUpdate, "change": schema.OpUpdate, "edit": schema.OpUpdate, "modify": schema.OpUpdate,
	"delete": schema.OpDelete, "remove": schema.OpDelete,
	"show": schema.OpRead, "get": schema.OpRead, "find": schema.OpRead, "view": schema.OpRead,
	"read": schema.OpRead, "lookup": schema.OpRead,
}

var (
	nameRe  = regexp.MustCompile(`(?i)\b(?:named|called)\s+(?:"([^"]+)"|'([^']+)'|([^,;\n]+?))(?:\s+(?:with|and|whose)\b|[,;\n]|\.(?:\s|$)|$)`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().\-]{5,}\d`)
	idRe    = regexp.MustCompile(`(?i)(?:\bid\b\s*[:#]?|#)\s*([A-Za-z0-9][A-Za-z0-9\-]{2,})`)
	dateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// KeywordClassifier scores catalog entity keywords against the message and
// picks the operation from the first operation verb.
type KeywordClassifier struct {
	catalog *schema.Catalog
}

func NewKeywordClassifier(catalog *schema.Catalog) *KeywordClassifier {
	return &KeywordClassifier{catalog: catalog}
}

func (k *KeywordClassifier) Classify(_ context.Context, message string, _ domain.Provider) (*domain.Intent, error) {
	words := tokenize(message)
	if len(words) == 0 {
		return nil, nil
	}
	padded := " " + strings.Join(words, " ") + " "

	var (
		bestDomain *schema.Domain
		bestEntity *schema.Entity
		bestScore  int
	)
	for _, d := range k.catalog.Domains() {
		for i := range d.Entities {
			e := &d.Entities[i]
			score := 0
			for _, kw := range entityKeywords(e) {
				if strings.Contains(padded, " "+kw+" ") {
					score++
				}
			}
			if score > bestScore {
				bestDomain, bestEntity, bestScore = d, e, score
			}
		}
	}
	if bestEntity == nil {
		return nil, nil
	}

	op, confidence := schema.OpCreate, confidenceDefaultVerb
	for _, w := range words {
		if v, ok := operationVerbs[w]; ok && bestEntity.Supports(v) {
			op, confidence = v, confidenceWithVerb
			break
		}
	}
	if !bestEntity.Supports(op) {
		op = bestEntity.Operations[0]
	}

	return &domain.Intent{
		Domain:     bestDomain.Name,
		Label:      bestEntity.Intent,
		Operation:  string(op),
		Confidence: confidence,
		Entities:   ExtractEntities(message, op),
		Strategy:   StrategyKeyword,
	}, nil
}

func entityKeywords(e *schema.Entity) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.Join(tokenize(s), " ")
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(e.Name)
	add(e.Label)
	for _, kw := range e.Keywords {
		add(kw)
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// ExtractEntities picks values a form can start from out of free text: a name
// after "named" or "called", the first e-mail address and phone number, and
// for operations on an existing record its id.
func ExtractEntities(message string, op schema.Operation) map[string]any {
	out := make(map[string]any)
	if m := nameRe.FindStringSubmatch(message); m != nil {
		for _, g := range m[1:] {
			if v := strings.TrimSpace(g); v != "" {
				out["name"] = v
				break
			}
		}
	}
	if email := emailRe.FindString(message); email != "" {
		out["email"] = email
	}
	var id string
	if op != schema.OpCreate {
		if m := idRe.FindStringSubmatch(message); m != nil {
			id = m[1]
			out[schema.IDField] = id
		}
	}
	for _, candidate := range phoneRe.FindAllString(message, -1) {
		candidate = strings.TrimSpace(candidate)
		if dateRe.MatchString(candidate) || (id != "" && strings.Contains(id, candidate)) {
			continue
		}
		if countDigits(candidate) >= 7 {
			out["phone"] = candidate
			break
		}
	}
	return out
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// LLMClassifier asks the provider to classify the message against the
// catalog's intents and expects a JSON object back.
type LLMClassifier struct {
	catalog *schema.Catalog
	model   string
	logger  *slog.Logger
}

func NewLLMClassifier(catalog *schema.Catalog, model string, logger *slog.Logger) *LLMClassifier {
	return &LLMClassifier{catalog: catalog, model: model, logger: logger}
}

type llmClassification struct {
	Intent     string         `json:"intent"`
	Operation  string         `json:"operation"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities"`
}

func (l *LLMClassifier) Classify(ctx context.Context, message string, provider domain.Provider) (*domain.Intent, error) {
	if provider == nil {
		return nil, nil
	}
	resp, err := provider.Chat(ctx, domain.ChatRequest{
		Model: l.model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: l.instructions()},
			{Role: domain.RoleUser, Content: message},
		},
		MaxTokens:   256,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}

	raw := extractJSONObject(resp.Content)
	if raw == "" {
		l.logger.Warn("intent classifier returned no JSON", "content", truncate(resp.Content, 200))
		return nil, nil
	}
	var c llmClassification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		if err := json.Unmarshal([]byte(sanitizeJSONEscapes(raw)), &c); err != nil {
			l.logger.Warn("intent classifier returned invalid JSON", "err", err)
			return nil, nil
		}
	}
	if c.Intent == "" {
		return nil, nil
	}

	for _, d := range l.catalog.Domains() {
		e, ok := d.EntityByIntent(c.Intent)
		if !ok {
			continue
		}
		op, err := schema.ParseOperation(strings.ToLower(c.Operation))
		if err != nil || !e.Supports(op) {
			op = schema.OpCreate
		}
		entities := c.Entities
		if entities == nil {
			entities = map[string]any{}
		}
		return &domain.Intent{
			Domain:     d.Name,
			Label:      c.Intent,
			Operation:  string(op),
			Confidence: clamp(c.Confidence),
			Entities:   entities,
			Strategy:   StrategyLLM,
		}, nil
	}
	l.logger.Debug("intent classifier named an unknown intent", "intent", c.Intent)
	return nil, nil
}

func (l *LLMClassifier) instructions() string {
	var sb strings.Builder
	sb.WriteString("Classify the user's message into one of these intents.\n\n")
	for _, d := range l.catalog.Domains() {
		for _, e := range d.Entities {
			fmt.Fprintf(&sb, "- %s: %s records (%s domain)", e.Intent, e.DisplayLabel(), d.Name)
			var fields []string
			for _, f := range e.Fields {
				fields = append(fields, f.Name)
			}
			if len(fields) > 0 {
				fmt.Fprintf(&sb, "; fields: %s", strings.Join(fields, ", "))
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString(`
Reply with a single JSON object and nothing else:
{"intent": "<intent or empty>", "operation": "create|update|delete|read", "confidence": 0.0-1.0, "entities": {"<field>": "<value>"}}
Use an empty intent when the message is small talk or matches nothing above.`)
	return sb.String()
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// HybridClassifier uses keywords first and asks the provider only when they
// find nothing.
type HybridClassifier struct {
	keyword *KeywordClassifier
	llm     *LLMClassifier
	logger  *slog.Logger
}

func NewHybridClassifier(keyword *KeywordClassifier, llm *LLMClassifier, logger *slog.Logger) *HybridClassifier {
	return &HybridClassifier{keyword: keyword, llm: llm, logger: logger}
}

func (h *HybridClassifier) Classify(ctx context.Context, message string, provider domain.Provider) (*domain.Intent, error) {
	intent, err := h.keyword.Classify(ctx, message, provider)
	if err != nil || intent != nil {
		return intent, err
	}
	intent, err = h.llm.Classify(ctx, message, provider)
	if err != nil {
		h.logger.Warn("llm intent classification failed, keeping keyword result", "err", err)
		return nil, nil
	}
	if intent != nil {
		intent.Strategy = StrategyHybrid
	}
	return intent, nil
}

// NewClassifier builds the classifier for strategy. Unknown strategies fall
// back to keyword matching.
func NewClassifier(strategy string, catalog *schema.Catalog, model string, logger *slog.Logger) Classifier {
	keyword := NewKeywordClassifier(catalog)
	switch strategy {
	case StrategyLLM:
		return NewLLMClassifier(catalog, model, logger)
	case StrategyHybrid:
		return NewHybridClassifier(keyword, NewLLMClassifier(catalog, model, logger), logger)
	case StrategyKeyword, "":
		return keyword
	default:
		logger.Warn("unknown router strategy, using keyword", "strategy", strategy)
		return keyword
	}
}
