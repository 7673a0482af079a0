// Package sales wires a catalog domain into a skill group: one workflow skill
// per entity, each driving the field-collection engine for its actions.
package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
	"skillbot/internal/workflow"
)

// ActionList lists or searches an entity's records instead of running a form.
const ActionList = "list"

type startInput struct {
	Operation string         `mapstructure:"operation"`
	Fields    map[string]any `mapstructure:",remain"`
}

type listInput struct {
	Query  string `mapstructure:"query"`
	Limit  int    `mapstructure:"limit"`
	Offset int    `mapstructure:"offset"`
}

// EntitySkill handles every action on one entity: it starts, answers, submits
// and cancels forms and lists records.
type EntitySkill struct {
	domain string
	entity schema.Entity
	engine *workflow.Engine
	logger *slog.Logger
}

func NewEntitySkill(domainName string, entity schema.Entity, engine *workflow.Engine, logger *slog.Logger) *EntitySkill {
	return &EntitySkill{domain: domainName, entity: entity, engine: engine, logger: logger}
}

func (s *EntitySkill) Metadata() domain.SkillMetadata {
	label := s.entity.DisplayLabel()
	return domain.SkillMetadata{
		ID:          domain.WorkflowSkillID(s.entity.Intent),
		Name:        label + " Records",
		Description: fmt.Sprintf("Create, update, delete and look up %s records.", strings.ToLower(label)),
		Category:    domain.CategoryWorkflow,
		Tags:        []string{s.domain, s.entity.Name},
	}
}

func (s *EntitySkill) Initialize(context.Context, *domain.SkillContext) error { return nil }

func (s *EntitySkill) Execute(ctx context.Context, input domain.SkillInput) (*domain.SkillResult, error) {
	sc := domain.SkillContextFrom(ctx)
	turn := workflow.Turn{ConversationID: sc.ConversationID, UserID: sc.UserID, Records: sc.Entities()}

	switch input.Action {
	case domain.ActionStart, "":
		var in startInput
		if err := mapstructure.Decode(input.Data, &in); err != nil {
			return nil, domain.NewError(domain.KindValidation, "decode start input", err)
		}
		action, err := s.action(in.Operation)
		if err != nil {
			return nil, err
		}
		step, err := s.engine.Start(ctx, turn, s.Metadata().ID, action, s.initial(action, in.Fields))
		return result(step, err)

	case domain.ActionAnswer:
		step, err := s.engine.Answer(ctx, turn, input.Message)
		return result(step, err)

	case domain.ActionSubmit:
		var in startInput
		if err := mapstructure.Decode(input.Data, &in); err != nil {
			return nil, domain.NewError(domain.KindValidation, "decode submit input", err)
		}
		action, err := s.action(in.Operation)
		if err != nil {
			return nil, err
		}
		step, err := s.engine.Submit(ctx, turn, action, in.Fields)
		return result(step, err)

	case domain.ActionCancel:
		step, err := s.engine.Cancel(ctx, sc.ConversationID)
		if err != nil {
			return nil, err
		}
		if step == nil {
			return &domain.SkillResult{Success: true, Data: domain.Reply{Message: "There is no form in progress."}}, nil
		}
		return &domain.SkillResult{Success: true, Data: step}, nil

	case ActionList, domain.ActionExecute:
		var in listInput
		if err := mapstructure.WeakDecode(input.Data, &in); err != nil {
			return nil, domain.NewError(domain.KindValidation, "decode list input", err)
		}
		return s.list(ctx, turn, in)
	}
	return nil, domain.NewError(domain.KindValidation, fmt.Sprintf("unknown action %q", input.Action), nil)
}

func (s *EntitySkill) Cleanup(context.Context, *domain.SkillContext) {}

func (s *EntitySkill) action(op string) (schema.ActionSchema, error) {
	operation := schema.OpCreate
	if op != "" {
		parsed, err := schema.ParseOperation(strings.ToLower(op))
		if err != nil {
			return schema.ActionSchema{}, domain.NewError(domain.KindValidation, "start "+s.entity.Name, err)
		}
		operation = parsed
	}
	if !s.entity.Supports(operation) {
		return schema.ActionSchema{}, domain.NewError(domain.KindValidation,
			fmt.Sprintf("%s records do not support %s", s.entity.Name, operation), nil)
	}
	return s.entity.Action(s.domain, operation), nil
}

// initial maps extracted values onto the action's fields. A single "name" is
// split into first and last name for entities that store them separately.
func (s *EntitySkill) initial(action schema.ActionSchema, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	name, ok := out["name"].(string)
	if !ok {
		return out
	}
	_, hasName := action.Field("name")
	_, hasFirst := action.Field("first_name")
	_, hasLast := action.Field("last_name")
	if hasName || !hasFirst || !hasLast {
		return out
	}
	delete(out, "name")
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return out
	}
	out["first_name"] = parts[0]
	if len(parts) > 1 {
		out["last_name"] = strings.Join(parts[1:], " ")
	}
	return out
}

func (s *EntitySkill) list(ctx context.Context, turn workflow.Turn, in listInput) (*domain.SkillResult, error) {
	if turn.Records == nil {
		return nil, domain.Execution("list "+s.entity.Name, fmt.Errorf("no record store configured"))
	}
	page := domain.Page{Limit: in.Limit, Offset: in.Offset}
	var (
		res *domain.RecordResult
		err error
	)
	if strings.TrimSpace(in.Query) != "" {
		res, err = turn.Records.Search(ctx, turn.UserID, s.entity.Name, in.Query, page)
	} else {
		res, err = turn.Records.List(ctx, turn.UserID, s.entity.Name, page)
	}
	if err != nil {
		return nil, err
	}
	return &domain.SkillResult{Success: res.Success, Error: res.Error, Data: Listing{Label: s.entity.DisplayLabel(), Result: res}}, nil
}

// Listing is the payload of a list action.
type Listing struct {
	Label  string               `json:"label"`
	Result *domain.RecordResult `json:"result"`
}

// Text implements domain.Texter.
func (l Listing) Text() string {
	label := strings.ToLower(l.Label)
	if l.Result == nil || len(l.Result.Records) == 0 {
		return fmt.Sprintf("You have no %s records yet.", label)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Showing %d of %d %s records:", len(l.Result.Records), l.Result.Total, label)
	for _, r := range l.Result.Records {
		fmt.Fprintf(&sb, "\n- %s", r.ID)
		if name, ok := r.Data["name"]; ok {
			fmt.Fprintf(&sb, " %v", name)
		} else if first, ok := r.Data["first_name"]; ok {
			fmt.Fprintf(&sb, " %v %v", first, r.Data["last_name"])
		}
	}
	return sb.String()
}

// result turns an engine step into a skill result. A failed submission is an
// unsuccessful result that still carries the step for the reply.
func result(step *workflow.Step, err error) (*domain.SkillResult, error) {
	if err != nil {
		return nil, err
	}
	if step.Kind == workflow.StepSubmissionFailed {
		return &domain.SkillResult{Success: false, Error: step.Error, Data: step}, nil
	}
	return &domain.SkillResult{Success: true, Data: step}, nil
}
