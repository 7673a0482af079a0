package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
	"skillbot/internal/schema"
	"skillbot/internal/validate"
)

// SubmitMode decides whether a completed form waits for the record store.
type SubmitMode string

const (
	// SubmitOptimistic reports success as soon as validation passes and logs
	// the submission outcome.
	SubmitOptimistic SubmitMode = "optimistic"
	// SubmitConfirmed waits for the record store and reports its failure.
	SubmitConfirmed SubmitMode = "confirmed"
)

// StepKind is the outcome of one engine call.
type StepKind string

const (
	StepQuestion         StepKind = "field_question"
	StepFieldError       StepKind = "field_error"
	StepCompleted        StepKind = "completed"
	StepCancelled        StepKind = "cancelled"
	StepSubmissionFailed StepKind = "submission_failed"
)

// Step is what the user sees after a Start, Answer or Cancel.
type Step struct {
	Kind       StepKind          `json:"kind"`
	SessionID  string            `json:"sessionId"`
	SchemaID   string            `json:"schemaId"`
	Field      string            `json:"field,omitempty"`
	Prompt     string            `json:"prompt"`
	Error      string            `json:"error,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Options    []schema.Option   `json:"options,omitempty"`
	Progress   Progress          `json:"progress"`
	Data       map[string]any    `json:"data,omitempty"`
	Record     *domain.Record    `json:"record,omitempty"`
	TaskID     string            `json:"taskId,omitempty"`
	Superseded string            `json:"superseded,omitempty"`
}

// Text implements domain.Texter.
func (s *Step) Text() string { return s.Prompt }

// Turn identifies who is answering and where completed forms go.
type Turn struct {
	ConversationID string
	UserID         string
	Records        domain.EntityRepository
}

// Options configures an Engine.
type Options struct {
	Mode        SubmitMode
	CancelWords []string
}

// DefaultCancelWords end a form when sent as the whole answer.
var DefaultCancelWords = []string{"cancel", "stop", "quit", "abort", "nevermind", "never mind"}

// Engine drives field-collection sessions.
type Engine struct {
	store     *Store
	submitter *Submitter
	mode      SubmitMode
	cancel    map[string]bool
	events    *bus.EventBus
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(store *Store, submitter *Submitter, opts Options, events *bus.EventBus, logger *slog.Logger) *Engine {
	if opts.Mode == "" {
		opts.Mode = SubmitOptimistic
	}
	if opts.CancelWords == nil {
		opts.CancelWords = DefaultCancelWords
	}
	cancel := make(map[string]bool, len(opts.CancelWords))
	for _, w := range opts.CancelWords {
		cancel[strings.ToLower(w)] = true
	}
	return &Engine{
		store:     store,
		submitter: submitter,
		mode:      opts.Mode,
		cancel:    cancel,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// Mode returns the configured submit mode.
func (e *Engine) Mode() SubmitMode { return e.mode }

// IsCancel reports whether text is a cancel word.
func (e *Engine) IsCancel(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!")
	return e.cancel[t]
}

// Active returns the conversation's open session, or nil.
func (e *Engine) Active(ctx context.Context, conversationID string) (*Session, error) {
	return e.store.Load(ctx, conversationID)
}

// Start opens a session for the action. Valid initial values are kept and
// invalid ones reported; an open session of the conversation is superseded.
// A form with nothing missing completes at once.
func (e *Engine) Start(ctx context.Context, t Turn, skillID string, s schema.ActionSchema, initial map[string]any) (*Step, error) {
	prev, err := e.store.Load(ctx, t.ConversationID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess := &Session{
		ID:             uuid.NewString(),
		ConversationID: t.ConversationID,
		UserID:         t.UserID,
		SkillID:        skillID,
		Schema:         s,
		CollectedData:  make(schema.Values),
		Errors:         make(map[string]string),
		StartedAt:      now,
		UpdatedAt:      now,
	}

	reg := s.Registry()
	system := make(map[string]bool, len(s.SystemFields))
	for _, name := range s.SystemFields {
		system[name] = true
	}
	for name, raw := range initial {
		if _, known := reg[name]; !known || system[name] {
			continue
		}
		v, msg := validate.FieldValue(name, raw, reg)
		switch {
		case msg != "":
			sess.Errors[name] = msg
		case !v.IsEmpty():
			sess.CollectedData[name] = v
		}
	}
	sess.seek()

	var superseded string
	if prev != nil && !prev.IsComplete {
		superseded = prev.ID
		e.logger.Info("workflow session superseded", "conversation", t.ConversationID, "old", prev.ID, "new", sess.ID)
		e.emit(bus.EventWorkflowCancelled, prev, map[string]any{"reason": "superseded"})
	}
	e.emit(bus.EventWorkflowStarted, sess, nil)

	if !sess.Missing() {
		step, err := e.complete(ctx, t, sess)
		if step != nil {
			step.Superseded = superseded
			step.Errors = sess.Errors
		}
		return step, err
	}

	if err := e.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	step := e.question(sess)
	step.Superseded = superseded
	step.Errors = sess.Errors
	step.Prompt = introduction(s) + "\n\n" + step.Prompt
	if f, ok := sess.CurrentField(); ok {
		if msg, bad := sess.Errors[f.Name]; bad {
			step.Kind = StepFieldError
			step.Error = msg
			step.Prompt = introduction(s) + "\n\n" + FieldError(f, sess.Progress(), msg)
		}
	}
	return step, nil
}

// Answer applies text to the current field of the conversation's session.
func (e *Engine) Answer(ctx context.Context, t Turn, text string) (*Step, error) {
	sess, err := e.store.Load(ctx, t.ConversationID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.NotFound("no active form in conversation %s", t.ConversationID)
	}

	if e.IsCancel(text) {
		return e.cancelSession(ctx, sess)
	}

	f, ok := sess.CurrentField()
	if !ok {
		// Nothing left to ask; a crash between the last answer and submission
		// can leave a session here.
		return e.complete(ctx, t, sess)
	}

	v, msg := validate.FieldValue(f.Name, text, sess.Schema.Registry())
	if msg != "" {
		sess.Errors[f.Name] = msg
		sess.UpdatedAt = e.now()
		if err := e.store.Save(ctx, sess); err != nil {
			return nil, err
		}
		step := e.question(sess)
		step.Kind = StepFieldError
		step.Error = msg
		step.Prompt = FieldError(f, sess.Progress(), msg)
		return step, nil
	}

	if sess.Errors == nil {
		sess.Errors = make(map[string]string)
	}
	delete(sess.Errors, f.Name)
	sess.CollectedData[f.Name] = v
	sess.UpdatedAt = e.now()
	sess.seek()

	if !sess.Missing() {
		return e.complete(ctx, t, sess)
	}
	if err := e.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return e.question(sess), nil
}

// Cancel discards the conversation's session. The step is nil when there was none.
func (e *Engine) Cancel(ctx context.Context, conversationID string) (*Step, error) {
	sess, err := e.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	return e.cancelSession(ctx, sess)
}

// Submit validates a full payload and submits it without a guided session.
// Optional fields may be set this way.
func (e *Engine) Submit(ctx context.Context, t Turn, s schema.ActionSchema, payload map[string]any) (*Step, error) {
	values, errs := validate.Schema(s, payload)
	if len(errs) > 0 {
		return &Step{
			Kind:     StepFieldError,
			SchemaID: s.ID,
			Prompt:   "Some fields need attention:\n" + errorList(s, errs),
			Errors:   errs,
		}, nil
	}
	now := e.now()
	sess := &Session{
		ID:             uuid.NewString(),
		ConversationID: t.ConversationID,
		UserID:         t.UserID,
		Schema:         s,
		CollectedData:  values,
		Errors:         map[string]string{},
		StartedAt:      now,
		UpdatedAt:      now,
	}
	sess.seek()
	if sess.Missing() {
		f, _ := sess.CurrentField()
		msg := fmt.Sprintf("%s is required", f.DisplayLabel())
		return &Step{
			Kind:     StepFieldError,
			SchemaID: s.ID,
			Field:    f.Name,
			Prompt:   msg,
			Error:    msg,
			Errors:   map[string]string{f.Name: msg},
		}, nil
	}
	return e.submit(ctx, t, sess)
}

func (e *Engine) cancelSession(ctx context.Context, sess *Session) (*Step, error) {
	if err := e.store.Delete(ctx, sess.ConversationID); err != nil {
		return nil, err
	}
	e.emit(bus.EventWorkflowCancelled, sess, map[string]any{"reason": "user"})
	e.logger.Info("workflow session cancelled", "conversation", sess.ConversationID, "session", sess.ID)
	return &Step{
		Kind:      StepCancelled,
		SessionID: sess.ID,
		SchemaID:  sess.Schema.ID,
		Prompt:    Cancelled(sess.Schema),
		Progress:  sess.Progress(),
	}, nil
}

// complete marks the session complete, removes it and submits its values.
func (e *Engine) complete(ctx context.Context, t Turn, sess *Session) (*Step, error) {
	sess.IsComplete = true
	sess.CurrentFieldIndex = len(sess.Required())
	if err := e.store.Delete(ctx, sess.ConversationID); err != nil {
		return nil, err
	}
	e.emit(bus.EventWorkflowCompleted, sess, nil)
	return e.submit(ctx, t, sess)
}

func (e *Engine) submit(ctx context.Context, t Turn, sess *Session) (*Step, error) {
	userID := t.UserID
	if userID == "" {
		userID = sess.UserID
	}
	h := e.submitter.Submit(ctx, Submission{
		SessionID:      sess.ID,
		ConversationID: sess.ConversationID,
		UserID:         userID,
		Schema:         sess.Schema,
		Values:         sess.CollectedData,
		Records:        t.Records,
	})

	step := &Step{
		Kind:      StepCompleted,
		SessionID: sess.ID,
		SchemaID:  sess.Schema.ID,
		Progress:  sess.Progress(),
		Data:      sess.CollectedData.Plain(),
		TaskID:    h.ID,
	}

	if e.mode == SubmitOptimistic && sess.Schema.Operation != schema.OpRead {
		step.Prompt = Completed(sess.Schema, sess.CollectedData, true)
		return step, nil
	}

	task, err := h.Wait(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindTimeout, "waiting for submission", err)
	}
	if task.Status == TaskFailed {
		step.Kind = StepSubmissionFailed
		step.Error = task.Error
		step.Prompt = SubmissionFailed(sess.Schema, task.Kind)
		if task.Kind == domain.KindNotFound && sess.Schema.Operation != schema.OpCreate {
			step.Prompt = RecordText(sess.Schema, nil)
		}
		return step, nil
	}
	if task.Result != nil {
		step.Record = task.Result.Record
	}
	if sess.Schema.Operation == schema.OpRead {
		step.Prompt = RecordText(sess.Schema, step.Record)
	} else {
		step.Prompt = Completed(sess.Schema, sess.CollectedData, false)
	}
	return step, nil
}

func (e *Engine) question(sess *Session) *Step {
	step := &Step{
		Kind:      StepQuestion,
		SessionID: sess.ID,
		SchemaID:  sess.Schema.ID,
		Progress:  sess.Progress(),
	}
	if f, ok := sess.CurrentField(); ok {
		step.Field = f.Name
		step.Options = f.Options
		step.Prompt = Question(f, step.Progress)
	}
	return step
}

func (e *Engine) emit(eventType string, sess *Session, extra map[string]any) {
	payload := map[string]any{
		"session":      sess.ID,
		"conversation": sess.ConversationID,
		"schema":       sess.Schema.ID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	e.events.Emit(bus.Event{Type: eventType, Source: "workflow", Payload: payload})
}

func errorList(s schema.ActionSchema, errs map[string]string) string {
	var lines []string
	for _, f := range s.Fields {
		if msg, ok := errs[f.Name]; ok {
			lines = append(lines, "- "+msg)
		}
	}
	return strings.Join(lines, "\n")
}
