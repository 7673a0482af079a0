package skill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
)

// SharedDomain is the domain reported for skills found in the shared registry.
const SharedDomain = "shared"

// ExecuteOptions names the skill to run and the turn it runs in.
type ExecuteOptions struct {
	SkillID string
	Context *domain.SkillContext
	Input   domain.SkillInput
}

// Outcome is the normalised result of one skill run. Result is never nil.
// Err is set when the skill could not be found or failed to run; the raw
// cause is kept for logs only.
type Outcome struct {
	SkillID  string
	Domain   string
	Result   *domain.SkillResult
	Err      *domain.Error
	Duration time.Duration
}

// OK reports whether the skill ran and reported success.
func (o Outcome) OK() bool { return o.Err == nil && o.Result.Success }

// Message returns the failure message, or "" for a successful run.
func (o Outcome) Message() string {
	if o.OK() {
		return ""
	}
	return o.Result.Error
}

// Manager finds skills across the shared registry and the domain groups and
// runs them through Initialize, Execute and Cleanup.
type Manager struct {
	shared  *Registry
	groups  []*Group
	mu      sync.RWMutex
	storage domain.StorageAdapter
	events  *bus.EventBus
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewManager(shared *Registry, storage domain.StorageAdapter, events *bus.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		shared:  shared,
		storage: storage,
		events:  events,
		tracer:  otel.Tracer("skillbot/skill"),
		logger:  logger,
	}
}

// Shared returns the domain-independent registry.
func (m *Manager) Shared() *Registry { return m.shared }

// AddGroup appends a domain group. A group with the same name is replaced in place.
func (m *Manager) AddGroup(g *Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.groups {
		if existing.Name == g.Name {
			m.groups[i] = g
			m.logger.Info("skill group replaced", "group", g.Name)
			return
		}
	}
	m.groups = append(m.groups, g)
	m.logger.Info("skill group added", "group", g.Name, "skills", g.registry.Len())
}

// Group returns the group named name.
func (m *Manager) Group(name string) (*Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Groups returns the groups in registration order.
func (m *Manager) Groups() []*Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Group(nil), m.groups...)
}

// Domains summarises every group for discovery.
func (m *Manager) Domains() []domain.DomainInfo {
	groups := m.Groups()
	out := make([]domain.DomainInfo, len(groups))
	for i, g := range groups {
		out[i] = g.Info()
	}
	return out
}

// Skills lists the metadata of every skill: shared first, then each group.
func (m *Manager) Skills() []domain.SkillMetadata {
	out := m.shared.List()
	for _, g := range m.Groups() {
		out = append(out, g.registry.List()...)
	}
	return out
}

// FindSkill looks in the shared registry first, then in each group in
// registration order. It returns (nil, "") when no skill has that id.
func (m *Manager) FindSkill(id string) (domain.Skill, string) {
	if s, ok := m.shared.Get(id); ok {
		return s, SharedDomain
	}
	for _, g := range m.Groups() {
		if s, ok := g.registry.Get(id); ok {
			return s, g.Name
		}
	}
	return nil, ""
}

// ExecuteSkill runs the skill and reports through exactly one callback.
func (m *Manager) ExecuteSkill(ctx context.Context, opts ExecuteOptions, onSuccess func(Outcome), onError func(msg string, o Outcome)) {
	o := m.Run(ctx, opts)
	if o.OK() {
		if onSuccess != nil {
			onSuccess(o)
		}
		return
	}
	if onError != nil {
		onError(o.Message(), o)
	}
}

// Run executes one skill. Nothing escapes it: errors and panics from the skill
// become a failed Outcome, and Cleanup runs once whenever Initialize was called.
func (m *Manager) Run(ctx context.Context, opts ExecuteOptions) Outcome {
	start := time.Now()
	s, dom := m.FindSkill(opts.SkillID)
	if s == nil {
		msg := fmt.Sprintf("Skill not found: %s", opts.SkillID)
		m.logger.Warn("skill not found", "skill", opts.SkillID)
		return Outcome{
			SkillID: opts.SkillID,
			Result:  &domain.SkillResult{Error: msg},
			Err:     domain.NotFound("%s", msg),
		}
	}

	ctx, span := m.tracer.Start(ctx, "skill.run", trace.WithAttributes(
		attribute.String("skill.id", opts.SkillID),
		attribute.String("skill.domain", dom),
		attribute.String("skill.action", opts.Input.Action),
	))
	defer span.End()

	o := m.run(ctx, s, dom, opts)
	o.Duration = time.Since(start)

	if o.Err != nil {
		span.SetStatus(codes.Error, o.Err.Error())
		span.RecordError(o.Err)
		m.logger.Error("skill failed", "skill", opts.SkillID, "domain", dom, "kind", o.Err.Kind, "err", o.Err)
	} else {
		span.SetStatus(codes.Ok, "")
		m.logger.Debug("skill executed", "skill", opts.SkillID, "domain", dom, "success", o.Result.Success, "duration", o.Duration)
	}
	m.events.Emit(bus.Event{
		Type:   bus.EventSkillExecuted,
		Source: "skill",
		Payload: map[string]any{
			"skill":       opts.SkillID,
			"domain":      dom,
			"success":     o.OK(),
			"duration_ms": o.Duration.Milliseconds(),
		},
	})
	return o
}

func (m *Manager) run(ctx context.Context, s domain.Skill, dom string, opts ExecuteOptions) Outcome {
	o := Outcome{SkillID: opts.SkillID, Domain: dom}
	fail := func(msg string, err error) Outcome {
		o.Err = domain.Execution(msg, err)
		o.Result = &domain.SkillResult{Error: fmt.Sprintf("%s: %v", msg, err)}
		return o
	}

	if dom != SharedDomain {
		if g, ok := m.Group(dom); ok {
			if err := g.Initialize(ctx, m.storage); err != nil {
				return fail("Skill group initialization failed", err)
			}
		}
	}

	sc := opts.Context
	if sc == nil {
		sc = &domain.SkillContext{}
	}
	if sc.Shared == nil {
		sc.Shared = make(map[string]any)
	}
	ctx = domain.WithSkillContext(ctx, sc)

	defer m.cleanup(ctx, s, sc, opts.SkillID)

	if err := m.initialize(ctx, s, sc); err != nil {
		return fail("Skill initialization failed", err)
	}

	res, err := m.execute(ctx, s, opts.Input)
	if err != nil {
		return fail("Skill execution failed", err)
	}
	if res == nil {
		return fail("Skill execution failed", errors.New("skill returned no result"))
	}
	o.Result = res
	return o
}

func (m *Manager) initialize(ctx context.Context, s domain.Skill, sc *domain.SkillContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Initialize(ctx, sc)
}

func (m *Manager) execute(ctx context.Context, s domain.Skill, input domain.SkillInput) (res *domain.SkillResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Execute(ctx, input)
}

func (m *Manager) cleanup(ctx context.Context, s domain.Skill, sc *domain.SkillContext, id string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("skill cleanup panic", "skill", id, "panic", r)
		}
	}()
	s.Cleanup(ctx, sc)
}
