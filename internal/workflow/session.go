// Package workflow runs field-collection sessions: the guided, field-by-field
// form that gathers an action's required input before it is submitted to the
// record store.
package workflow

import (
	"time"

	"skillbot/internal/schema"
)

// Session is the persisted state of one field-collection form. At most one
// exists per conversation.
type Session struct {
	ID                string              `json:"id"`
	ConversationID    string              `json:"conversationId"`
	UserID            string              `json:"userId,omitempty"`
	SkillID           string              `json:"skillId"`
	Schema            schema.ActionSchema `json:"schema"`
	CollectedData     schema.Values       `json:"collectedData"`
	CurrentFieldIndex int                 `json:"currentFieldIndex"`
	Errors            map[string]string   `json:"errors,omitempty"`
	IsComplete        bool                `json:"isComplete"`
	StartedAt         time.Time           `json:"startedAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// Required returns the fields the guided flow asks for, in order.
func (s *Session) Required() []schema.FieldDescriptor {
	return s.Schema.Required()
}

// CurrentField returns the field awaiting an answer.
func (s *Session) CurrentField() (schema.FieldDescriptor, bool) {
	req := s.Required()
	if s.CurrentFieldIndex < 0 || s.CurrentFieldIndex >= len(req) {
		return schema.FieldDescriptor{}, false
	}
	return req[s.CurrentFieldIndex], true
}

// Progress returns how many required fields hold a value, out of how many.
func (s *Session) Progress() Progress {
	req := s.Required()
	p := Progress{Total: len(req)}
	for _, f := range req {
		if s.CollectedData.Has(f.Name) {
			p.Answered++
		}
	}
	return p
}

// Missing reports whether any required field is still empty.
func (s *Session) Missing() bool {
	p := s.Progress()
	return p.Answered < p.Total
}

// seek positions CurrentFieldIndex on the first required field without a
// value, or one past the end when none is left.
func (s *Session) seek() {
	req := s.Required()
	for i, f := range req {
		if !s.CollectedData.Has(f.Name) {
			s.CurrentFieldIndex = i
			return
		}
	}
	s.CurrentFieldIndex = len(req)
}

// Progress is the "answered/total" indicator shown with each prompt.
type Progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}
