package agent

import (
	"context"
	"log/slog"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
	"skillbot/internal/skill"
)

// DefaultMinConfidence is used when RouterOptions leaves MinConfidence unset.
const DefaultMinConfidence = 0.5

type RouterOptions struct {
	MinConfidence float64
}

// IntentRouter classifies a message through the shared intent-detector skill
// and hands routable intents to the matching workflow skill.
type IntentRouter struct {
	manager       *skill.Manager
	minConfidence float64
	events        *bus.EventBus
	logger        *slog.Logger
}

func NewIntentRouter(manager *skill.Manager, opts RouterOptions, events *bus.EventBus, logger *slog.Logger) *IntentRouter {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	return &IntentRouter{manager: manager, minConfidence: opts.MinConfidence, events: events, logger: logger}
}

// Detect returns the message's intent, or nil when the detector is missing,
// fails, finds nothing, or is less confident than the configured threshold.
func (r *IntentRouter) Detect(ctx context.Context, message string, sc *domain.SkillContext) *domain.Intent {
	o := r.manager.Run(ctx, skill.ExecuteOptions{
		SkillID: domain.SkillIntentDetector,
		Context: sc,
		Input:   domain.SkillInput{Message: message},
	})
	if !o.OK() {
		r.logger.Warn("intent detection failed", "conversation", sc.ConversationID, "error", o.Message())
		return nil
	}
	intent, ok := o.Result.Data.(*domain.Intent)
	if !ok || intent == nil {
		return nil
	}
	if intent.Confidence < r.minConfidence {
		r.logger.Debug("intent below threshold",
			"intent", intent.Label, "confidence", intent.Confidence, "min", r.minConfidence)
		return nil
	}
	r.events.Emit(bus.Event{
		Type:   bus.EventIntentDetected,
		Source: "router",
		Payload: map[string]any{
			"conversation": sc.ConversationID,
			"domain":       intent.Domain,
			"intent":       intent.Label,
			"operation":    intent.Operation,
			"confidence":   intent.Confidence,
			"strategy":     intent.Strategy,
		},
	})
	return intent
}

// CanRoute reports whether the domain group holds the intent's workflow skill.
func (r *IntentRouter) CanRoute(domainName, intent string) bool {
	g, ok := r.manager.Group(domainName)
	if !ok {
		return false
	}
	return g.CanRoute(intent)
}

// ExecuteWorkflow starts the intent's workflow skill with the extracted
// entities and operation as initial data.
func (r *IntentRouter) ExecuteWorkflow(ctx context.Context, intent *domain.Intent, message string, sc *domain.SkillContext) skill.Outcome {
	data := make(map[string]any, len(intent.Entities)+1)
	for k, v := range intent.Entities {
		data[k] = v
	}
	if intent.Operation != "" {
		data["operation"] = intent.Operation
	}
	return r.manager.Run(ctx, skill.ExecuteOptions{
		SkillID: intent.SkillID(),
		Context: sc,
		Input:   domain.SkillInput{Action: domain.ActionStart, Message: message, Data: data},
	})
}
