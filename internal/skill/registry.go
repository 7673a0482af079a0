// Package skill holds the skill registries and the manager that runs every
// skill through its lifecycle.
package skill

import (
	"log/slog"
	"sort"
	"sync"

	"skillbot/internal/domain"
)

// Registry maps skill ids to skill instances.
type Registry struct {
	skills map[string]domain.Skill
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		skills: make(map[string]domain.Skill),
		logger: logger,
	}
}

// Register adds a skill. A skill with the same id is replaced; last writer wins.
func (r *Registry) Register(s domain.Skill) {
	meta := s.Metadata()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[meta.ID]; exists {
		r.skills[meta.ID] = s
		r.logger.Info("skill replaced", "id", meta.ID)
		return
	}
	r.skills[meta.ID] = s
	r.logger.Info("skill registered", "id", meta.ID, "category", meta.Category)
}

// Get returns the skill registered under id.
func (r *Registry) Get(id string) (domain.Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns the metadata of every registered skill, sorted by id.
func (r *Registry) List() []domain.SkillMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SkillMetadata, 0, len(r.skills))
	for _, s := range r.skills {
		meta := s.Metadata()
		meta.Tags = append([]string(nil), meta.Tags...)
		result = append(result, meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}
