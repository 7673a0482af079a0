package domain

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the persisted transcript and scratch context of one
// conversation. Only the conversation's orchestrator reads or writes it.
type ConversationState struct {
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId"`
	Messages    []Message      `json:"messages"`
	Context     map[string]any `json:"context,omitempty"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// Append adds a message and bumps LastUpdated.
func (s *ConversationState) Append(role, content string, at time.Time) Message {
	msg := Message{Role: role, Content: content, Timestamp: at}
	s.Messages = append(s.Messages, msg)
	s.LastUpdated = at
	return msg
}

// Recent returns up to limit trailing messages. limit <= 0 returns all.
func (s *ConversationState) Recent(limit int) []Message {
	if limit <= 0 || len(s.Messages) <= limit {
		out := make([]Message, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	out := make([]Message, limit)
	copy(out, s.Messages[len(s.Messages)-limit:])
	return out
}

// Inbound turn types.
const (
	TurnChat  = "chat"
	TurnSkill = "skill"
)

// InboundTurn is one parsed user turn from any transport.
type InboundTurn struct {
	Type    string         `json:"type"`
	SkillID string         `json:"skillId,omitempty"`
	Content string         `json:"content,omitempty"`
	Message string         `json:"message,omitempty"`
	Action  string         `json:"action,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Text returns the raw user text, preferring Content over Message.
func (t InboundTurn) Text() string {
	if t.Content != "" {
		return t.Content
	}
	return t.Message
}

// Outbound event types.
const (
	EventWelcome      = "welcome"
	EventMessageAdded = "message_added"
	EventProgress     = "progress"
	EventSkillResult  = "skill_result"
	EventError        = "error"
	EventStream       = "stream"
)

// Progress stages.
const (
	StageDetectingIntent       = "detecting_intent"
	StageExecutingWorkflow     = "executing_workflow"
	StageExecutingConversation = "executing_conversation"
	StageComplete              = "complete"
)

// Outbound is an event pushed to a transport. Only the fields that belong to
// Type are populated; MarshalJSON emits exactly those.
type Outbound struct {
	Type string

	// welcome
	SessionID        string
	AvailableDomains []DomainInfo
	AvailableSkills  []SkillMetadata

	// message_added
	Message *Message

	// progress
	Stage     string
	Details   string
	Timestamp time.Time

	// skill_result
	SkillID   string
	Domain    string
	Success   bool
	Data      any
	NextSkill string

	// error
	ErrorMessage string

	// stream
	Delta string
}

// MarshalJSON renders the wire format for the event type.
func (o Outbound) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": o.Type}
	switch o.Type {
	case EventWelcome:
		m["sessionId"] = o.SessionID
		m["availableDomains"] = nonNil(o.AvailableDomains)
		m["availableSkills"] = nonNil(o.AvailableSkills)
	case EventMessageAdded:
		m["message"] = o.Message
	case EventProgress:
		m["stage"] = o.Stage
		m["details"] = o.Details
		m["timestamp"] = o.Timestamp
	case EventSkillResult:
		m["skillId"] = o.SkillID
		m["domain"] = o.Domain
		m["success"] = o.Success
		m["data"] = o.Data
		if o.NextSkill != "" {
			m["nextSkill"] = o.NextSkill
		}
	case EventError:
		m["message"] = o.ErrorMessage
	case EventStream:
		m["delta"] = o.Delta
	}
	return json.Marshal(m)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// DomainInfo summarises a skill group for discovery.
type DomainInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// Emitter delivers outbound events to whatever transport owns the connection.
type Emitter interface {
	Emit(out Outbound)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Outbound)

func (f EmitterFunc) Emit(out Outbound) { f(out) }

// DiscardEmitter drops every event.
var DiscardEmitter Emitter = EmitterFunc(func(Outbound) {})
