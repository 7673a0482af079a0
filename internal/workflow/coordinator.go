package workflow

import (
	"context"
	"log/slog"

	"skillbot/internal/domain"
)

// Coordinator actions beyond the common ones.
const ActionStatus = "status"

// Coordinator is the shared skill that decides whether the conversation's open
// form owns the next turn. When it does, the result names the form's skill as
// NextSkill with an answer handoff; otherwise the turn is left for routing.
type Coordinator struct {
	engine *Engine
	logger *slog.Logger
}

func NewCoordinator(engine *Engine, logger *slog.Logger) *Coordinator {
	return &Coordinator{engine: engine, logger: logger}
}

func (c *Coordinator) Metadata() domain.SkillMetadata {
	return domain.SkillMetadata{
		ID:          domain.SkillWorkflowCoordinator,
		Name:        "Workflow Coordinator",
		Description: "Hands the next turn to the form in progress, reports its status or cancels it.",
		Category:    domain.CategoryShared,
		Tags:        []string{"workflow", "routing"},
	}
}

func (c *Coordinator) Initialize(context.Context, *domain.SkillContext) error { return nil }

func (c *Coordinator) Execute(ctx context.Context, input domain.SkillInput) (*domain.SkillResult, error) {
	sc := domain.SkillContextFrom(ctx)

	switch input.Action {
	case domain.ActionCancel:
		step, err := c.engine.Cancel(ctx, sc.ConversationID)
		if err != nil {
			return nil, err
		}
		if step == nil {
			return &domain.SkillResult{Success: true, Data: domain.Reply{Message: "There is no form in progress."}}, nil
		}
		return &domain.SkillResult{Success: true, Data: step}, nil

	case ActionStatus:
		sess, err := c.engine.Active(ctx, sc.ConversationID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return &domain.SkillResult{Success: true, Data: domain.Reply{Message: "There is no form in progress."}}, nil
		}
		return &domain.SkillResult{Success: true, Data: c.engine.question(sess)}, nil
	}

	sess, err := c.engine.Active(ctx, sc.ConversationID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return &domain.SkillResult{Success: true}, nil
	}
	c.logger.Debug("form owns turn", "conversation", sc.ConversationID, "skill", sess.SkillID, "session", sess.ID)
	return &domain.SkillResult{
		Success:   true,
		NextSkill: sess.SkillID,
		Data:      domain.Handoff{Action: domain.ActionAnswer},
	}, nil
}

func (c *Coordinator) Cleanup(context.Context, *domain.SkillContext) {}
