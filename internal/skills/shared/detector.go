package shared

import (
	"context"
	"log/slog"
	"strings"

	"skillbot/internal/domain"
)

// IntentDetector is the shared skill that classifies a message. Its result
// Data is a *domain.Intent, nil when nothing matched.
type IntentDetector struct {
	classifier Classifier
	logger     *slog.Logger
}

func NewIntentDetector(classifier Classifier, logger *slog.Logger) *IntentDetector {
	return &IntentDetector{classifier: classifier, logger: logger}
}

func (d *IntentDetector) Metadata() domain.SkillMetadata {
	return domain.SkillMetadata{
		ID:          domain.SkillIntentDetector,
		Name:        "Intent Detector",
		Description: "Classifies a message into a domain intent and operation.",
		Category:    domain.CategoryShared,
		Tags:        []string{"routing", "nlu"},
	}
}

func (d *IntentDetector) Initialize(context.Context, *domain.SkillContext) error { return nil }

func (d *IntentDetector) Execute(ctx context.Context, input domain.SkillInput) (*domain.SkillResult, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return &domain.SkillResult{Success: true}, nil
	}
	sc := domain.SkillContextFrom(ctx)
	intent, err := d.classifier.Classify(ctx, message, sc.Provider())
	if err != nil {
		return nil, err
	}
	if intent == nil {
		d.logger.Debug("no intent detected", "conversation", sc.ConversationID)
		return &domain.SkillResult{Success: true}, nil
	}
	d.logger.Debug("intent detected",
		"conversation", sc.ConversationID,
		"intent", intent.Label,
		"operation", intent.Operation,
		"confidence", intent.Confidence,
		"strategy", intent.Strategy,
	)
	return &domain.SkillResult{Success: true, Data: intent}, nil
}

func (d *IntentDetector) Cleanup(context.Context, *domain.SkillContext) {}
