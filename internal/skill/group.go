package skill

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"skillbot/internal/domain"
)

// InitFunc prepares a group's storage before its first skill runs.
type InitFunc func(ctx context.Context, storage domain.StorageAdapter) error

// Group is a domain-scoped registry, e.g. "sales".
type Group struct {
	Name        string
	Description string

	registry *Registry
	init     InitFunc

	mu   sync.Mutex
	done bool
}

func NewGroup(name, description string, init InitFunc, logger *slog.Logger) *Group {
	return &Group{
		Name:        name,
		Description: description,
		registry:    NewRegistry(logger.With("group", name)),
		init:        init,
	}
}

// Register adds a skill to the group.
func (g *Group) Register(s domain.Skill) { g.registry.Register(s) }

// Registry exposes the group's skills.
func (g *Group) Registry() *Registry { return g.registry }

// Initialize runs the init hook until it succeeds once. Concurrent callers
// block while it runs; a failure is returned and the next call tries again.
// The hook is not cancelled with the caller's ctx.
func (g *Group) Initialize(ctx context.Context, storage domain.StorageAdapter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return nil
	}
	if g.init != nil {
		if err := g.init(context.WithoutCancel(ctx), storage); err != nil {
			return err
		}
	}
	g.done = true
	return nil
}

// CanRoute reports whether the group handles intent.
func (g *Group) CanRoute(intent string) bool {
	return g.registry.Has(domain.WorkflowSkillID(intent))
}

// Intents lists the intents the group handles.
func (g *Group) Intents() []string {
	var intents []string
	for _, meta := range g.registry.List() {
		if intent, ok := strings.CutPrefix(meta.ID, domain.WorkflowSkillPrefix); ok {
			intents = append(intents, intent)
		}
	}
	return intents
}

// Info summarises the group for discovery.
func (g *Group) Info() domain.DomainInfo {
	metas := g.registry.List()
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	return domain.DomainInfo{Name: g.Name, Description: g.Description, Skills: ids}
}
