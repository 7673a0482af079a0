package entity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillbot/internal/domain"
)

// MemoryRepository is a process-local EntityRepository for tests and the
// offline CLI.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]domain.Record
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]domain.Record), now: time.Now}
}

func (m *MemoryRepository) Create(_ context.Context, userID, entity string, payload map[string]any) (*domain.RecordResult, error) {
	now := m.now().UTC()
	rec := domain.Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Entity:    entity,
		Data:      merge(nil, payload),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	out := copyRecord(rec)
	return &domain.RecordResult{Success: true, Record: &out}, nil
}

func (m *MemoryRepository) Read(_ context.Context, userID, entity, id string) (*domain.RecordResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.lookup(userID, entity, id)
	if !ok {
		return notFound(entity, id), nil
	}
	out := copyRecord(rec)
	return &domain.RecordResult{Success: true, Record: &out}, nil
}

func (m *MemoryRepository) Update(_ context.Context, userID, entity, id string, payload map[string]any) (*domain.RecordResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.lookup(userID, entity, id)
	if !ok {
		return notFound(entity, id), nil
	}
	rec.Data = merge(rec.Data, payload)
	rec.UpdatedAt = m.now().UTC()
	m.records[id] = rec
	out := copyRecord(rec)
	return &domain.RecordResult{Success: true, Record: &out}, nil
}

func (m *MemoryRepository) Delete(_ context.Context, userID, entity, id string) (*domain.RecordResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(userID, entity, id); !ok {
		return notFound(entity, id), nil
	}
	delete(m.records, id)
	return &domain.RecordResult{Success: true, Record: &domain.Record{ID: id, UserID: userID, Entity: entity}}, nil
}

func (m *MemoryRepository) List(ctx context.Context, userID, entity string, page domain.Page) (*domain.RecordResult, error) {
	return m.Search(ctx, userID, entity, "", page)
}

func (m *MemoryRepository) Search(_ context.Context, userID, entity, query string, page domain.Page) (*domain.RecordResult, error) {
	page = normalizePage(page)
	query = strings.ToLower(strings.TrimSpace(query))

	m.mu.RLock()
	var matched []domain.Record
	for _, rec := range m.records {
		if rec.UserID != userID || rec.Entity != entity {
			continue
		}
		if query != "" && !strings.Contains(searchText(rec.Data), query) {
			continue
		}
		matched = append(matched, copyRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	start := min(page.Offset, total)
	end := min(start+page.Limit, total)
	return &domain.RecordResult{Success: true, Records: matched[start:end], Total: total}, nil
}

// Len returns the number of stored records across all users.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryRepository) lookup(userID, entity, id string) (domain.Record, bool) {
	rec, ok := m.records[id]
	if !ok || rec.UserID != userID || rec.Entity != entity {
		return domain.Record{}, false
	}
	return rec, true
}

func copyRecord(r domain.Record) domain.Record {
	r.Data = merge(nil, r.Data)
	return r
}

var _ domain.EntityRepository = (*MemoryRepository)(nil)
