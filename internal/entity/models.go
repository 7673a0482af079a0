// Package entity stores the records that domain actions create, read, update
// and delete.
package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"skillbot/internal/domain"
)

// DefaultPageSize applies when a Page has no limit.
const DefaultPageSize = 20

// MaxPageSize caps any requested limit.
const MaxPageSize = 200

type dbRecord struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Entity    string    `db:"entity"`
	Data      string    `db:"data"`
	Search    string    `db:"search"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func fromRecord(r domain.Record) (dbRecord, error) {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return dbRecord{}, fmt.Errorf("encode record data: %w", err)
	}
	return dbRecord{
		ID:        r.ID,
		UserID:    r.UserID,
		Entity:    r.Entity,
		Data:      string(data),
		Search:    searchText(r.Data),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (d dbRecord) toRecord() (domain.Record, error) {
	r := domain.Record{
		ID:        d.ID,
		UserID:    d.UserID,
		Entity:    d.Entity,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(d.Data), &r.Data); err != nil {
		return domain.Record{}, fmt.Errorf("decode record %s: %w", d.ID, err)
	}
	return r, nil
}

// searchText is the lower-cased text a Search query is matched against.
func searchText(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := data[k]; v != nil {
			parts = append(parts, strings.ToLower(fmt.Sprint(v)))
		}
	}
	return strings.Join(parts, " ")
}

func normalizePage(p domain.Page) domain.Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func notFound(entity, id string) *domain.RecordResult {
	return &domain.RecordResult{Error: fmt.Sprintf("%s %s not found", entity, id)}
}
