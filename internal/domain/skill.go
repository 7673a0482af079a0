package domain

import "context"

type skillContextKey struct{}

// WithSkillContext returns ctx carrying sc for the duration of one skill run.
func WithSkillContext(ctx context.Context, sc *SkillContext) context.Context {
	return context.WithValue(ctx, skillContextKey{}, sc)
}

// SkillContextFrom returns the SkillContext of the running skill. It never
// returns nil.
func SkillContextFrom(ctx context.Context) *SkillContext {
	if sc, ok := ctx.Value(skillContextKey{}).(*SkillContext); ok && sc != nil {
		return sc
	}
	return &SkillContext{}
}

// SkillCategory groups skills for discovery.
type SkillCategory string

const (
	CategoryShared   SkillCategory = "shared"
	CategoryWorkflow SkillCategory = "workflow"
	CategoryHelper   SkillCategory = "helper"
)

// Well-known skill identifiers shared by every deployment.
const (
	SkillIntentDetector      = "intent-detector"
	SkillConversation        = "conversation"
	SkillWorkflowCoordinator = "workflow-coordinator"
	SkillHelp                = "help"

	// SharedUnroutedIntent is the SkillContext.Shared key holding the
	// *Intent the router detected but could not hand to a workflow skill.
	SharedUnroutedIntent = "unroutedIntent"

	// WorkflowSkillPrefix is prepended to an intent label to form the id of
	// the domain skill that handles it.
	WorkflowSkillPrefix = "workflow:"
)

// WorkflowSkillID returns the registry id of the skill handling intent.
func WorkflowSkillID(intent string) string {
	return WorkflowSkillPrefix + intent
}

// SkillMetadata describes a registered skill. It never changes after registration.
type SkillMetadata struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Category    SkillCategory `json:"category" yaml:"category"`
	Tags        []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Environment bundles the collaborators a skill may reach during a turn.
type Environment struct {
	Storage  StorageAdapter
	Entities EntityRepository
	Provider Provider
}

// SkillContext is the per-turn bundle handed to a skill. The orchestrator owns
// it; skills must not keep references to it after Cleanup.
type SkillContext struct {
	ConversationID string
	UserID         string
	Env            *Environment
	Emit           Emitter
	State          *ConversationState
	History        []Message
	Shared         map[string]any
}

// Storage returns the storage adapter, or nil when none is wired.
func (sc *SkillContext) Storage() StorageAdapter {
	if sc == nil || sc.Env == nil {
		return nil
	}
	return sc.Env.Storage
}

// Entities returns the entity repository, or nil when none is wired.
func (sc *SkillContext) Entities() EntityRepository {
	if sc == nil || sc.Env == nil {
		return nil
	}
	return sc.Env.Entities
}

// Provider returns the language-model provider, or nil when none is wired.
func (sc *SkillContext) Provider() Provider {
	if sc == nil || sc.Env == nil {
		return nil
	}
	return sc.Env.Provider
}

// Skill input actions.
const (
	ActionStart   = "start"
	ActionAnswer  = "answer"
	ActionSubmit  = "submit"
	ActionExecute = "execute"
	ActionCancel  = "cancel"
)

// SkillInput is the payload passed to Execute.
type SkillInput struct {
	Action  string         `json:"action,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// SkillResult is the outcome of one Execute call. NextSkill, when set, asks the
// orchestrator to continue the same turn with that skill.
type SkillResult struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	NextSkill string `json:"nextSkill,omitempty"`
}

// Skill is a unit of executable capability.
//
// The lifecycle for one turn is Initialize, Execute, Cleanup. Initialize must
// tolerate missing optional context. Execute must not leave partial persisted
// state behind when it fails. Cleanup is idempotent and never fails; problems
// are logged and swallowed.
//
// One instance serves every conversation, so per-turn state lives in the
// SkillContext; Execute reads it with SkillContextFrom(ctx).
type Skill interface {
	Metadata() SkillMetadata
	Initialize(ctx context.Context, sc *SkillContext) error
	Execute(ctx context.Context, input SkillInput) (*SkillResult, error)
	Cleanup(ctx context.Context, sc *SkillContext)
}

// Texter is implemented by result payloads that can render themselves as a
// plain-language assistant reply.
type Texter interface {
	Text() string
}

// Handoff is the Data of a result whose NextSkill continues the turn. It tells
// the orchestrator which action and data to pass on.
type Handoff struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// Reply is a plain-text result payload.
type Reply struct {
	Message string `json:"message"`
}

func (r Reply) Text() string { return r.Message }
