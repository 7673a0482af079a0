package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, out Outbound) map[string]any {
	t.Helper()
	data, err := json.Marshal(out)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestOutbound_ErrorUsesMessageKey(t *testing.T) {
	m := decode(t, Outbound{Type: EventError, ErrorMessage: "Skill not found"})
	assert.Equal(t, "error", m["type"])
	assert.Equal(t, "Skill not found", m["message"])
	assert.Len(t, m, 2)
}

func TestOutbound_MessageAdded(t *testing.T) {
	msg := Message{Role: RoleUser, Content: "hi", Timestamp: time.Unix(0, 0).UTC()}
	m := decode(t, Outbound{Type: EventMessageAdded, Message: &msg})
	inner, ok := m["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user", inner["role"])
	assert.Equal(t, "hi", inner["content"])
}

func TestOutbound_SkillResultOmitsEmptyNextSkill(t *testing.T) {
	m := decode(t, Outbound{Type: EventSkillResult, SkillID: "workflow:account-crud", Domain: "sales", Success: true})
	assert.Equal(t, true, m["success"])
	_, has := m["nextSkill"]
	assert.False(t, has)
}

func TestOutbound_WelcomeHasEmptyLists(t *testing.T) {
	m := decode(t, Outbound{Type: EventWelcome, SessionID: "abc"})
	assert.Equal(t, []any{}, m["availableDomains"])
	assert.Equal(t, []any{}, m["availableSkills"])
}

func TestInboundTurn_TextPrefersContent(t *testing.T) {
	assert.Equal(t, "a", InboundTurn{Content: "a", Message: "b"}.Text())
	assert.Equal(t, "b", InboundTurn{Message: "b"}.Text())
}

func TestConversationState_Recent(t *testing.T) {
	var s ConversationState
	now := time.Now()
	for _, c := range []string{"1", "2", "3"} {
		s.Append(RoleUser, c, now)
	}
	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "2", recent[0].Content)
	assert.Len(t, s.Recent(0), 3)
	assert.Equal(t, now, s.LastUpdated)
}
