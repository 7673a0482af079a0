package domain

import (
	"context"
	"time"
)

// StorageAdapter is the key/value persistence used for conversation state and
// field-collection sessions. Keys are namespaced by the caller, e.g.
// "conversation:<id>". Get reports found=false for a missing key.
type StorageAdapter interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Scanner is implemented by storage adapters that can enumerate keys. The
// callback receives the key, value and last write time; returning false stops
// the scan.
type Scanner interface {
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte, updatedAt time.Time) bool) error
}

// Record is one stored entity.
type Record struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"userId" db:"user_id"`
	Entity    string         `json:"entity" db:"entity"`
	Data      map[string]any `json:"data" db:"-"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
}

// Page selects a window of a result set. Limit <= 0 uses the repository default.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// RecordResult carries the outcome of a repository call.
type RecordResult struct {
	Success bool     `json:"success"`
	Record  *Record  `json:"record,omitempty"`
	Records []Record `json:"records,omitempty"`
	Total   int      `json:"total,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// EntityRepository is the backing record store for domain actions. Failures
// that are the caller's fault (unknown id) come back as RecordResult with
// Success=false; infrastructure failures come back as *Error.
type EntityRepository interface {
	Create(ctx context.Context, userID, entity string, payload map[string]any) (*RecordResult, error)
	Read(ctx context.Context, userID, entity, id string) (*RecordResult, error)
	Update(ctx context.Context, userID, entity, id string, payload map[string]any) (*RecordResult, error)
	Delete(ctx context.Context, userID, entity, id string) (*RecordResult, error)
	List(ctx context.Context, userID, entity string, page Page) (*RecordResult, error)
	Search(ctx context.Context, userID, entity, query string, page Page) (*RecordResult, error)
}
