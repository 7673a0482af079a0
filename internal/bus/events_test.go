package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got Event
	eb.On(EventSkillExecuted, func(e Event) { got = e })
	eb.Emit(Event{Type: EventSkillExecuted, Payload: map[string]any{"skill": "help"}})

	assert.Equal(t, "help", got.Payload["skill"])
	assert.False(t, got.Timestamp.IsZero())
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On("*", func(Event) { atomic.AddInt32(&count, 1) })
	eb.Emit(Event{Type: "event.a"})
	eb.Emit(Event{Type: "event.b"})

	assert.EqualValues(t, 2, atomic.LoadInt32(&count))
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testLogger())

	var a, b int32
	idA := eb.On("x", func(Event) { atomic.AddInt32(&a, 1) })
	eb.On("x", func(Event) { atomic.AddInt32(&b, 1) })

	eb.Emit(Event{Type: "x"})
	eb.Off("x", idA)
	eb.On("x", func(Event) {})
	eb.Emit(Event{Type: "x"})

	assert.EqualValues(t, 1, a)
	assert.EqualValues(t, 2, b)
}

func TestEventBus_PanickingHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var after bool
	eb.On("x", func(Event) { panic("boom") })
	eb.On("x", func(Event) { after = true })

	assert.NotPanics(t, func() { eb.Emit(Event{Type: "x"}) })
	assert.True(t, after)
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	assert.Len(t, eb.Replay("a", time.Time{}), 2)
	assert.Len(t, eb.Replay("*", time.Time{}), 3)
	assert.Empty(t, eb.Replay("*", time.Now().Add(time.Hour)))
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eb *EventBus
	assert.NotPanics(t, func() {
		eb.Emit(Event{Type: "x"})
	})
}

func TestEventBus_HistoryIsBounded(t *testing.T) {
	eb := NewEventBus(testLogger())
	for i := 0; i < defaultHistory+5; i++ {
		eb.Emit(Event{Type: "n", Payload: map[string]any{"i": i}})
	}

	events := eb.Replay("*", time.Time{})
	require.Len(t, events, defaultHistory)
	assert.Equal(t, 5, events[0].Payload["i"], "oldest events are dropped first")
	assert.Equal(t, defaultHistory+4, events[len(events)-1].Payload["i"])
}

func TestTurnBus_RoundTrip(t *testing.T) {
	b := NewTurnBus(1, testLogger())

	var delivered Outbound
	b.OnOutbound("telegram", func(o Outbound) { delivered = o })

	require.True(t, b.Publish(Inbound{Channel: "telegram", ConversationID: "tg-1", Turn: domain.InboundTurn{Type: domain.TurnChat, Content: "hi"}}))
	in := <-b.Subscribe()
	assert.Equal(t, "hi", in.Turn.Text())

	b.SendOutbound(Outbound{Channel: "telegram", ConversationID: "tg-1", Event: domain.Outbound{Type: domain.EventError}})
	assert.Equal(t, "tg-1", delivered.ConversationID)

	b.Close()
	assert.False(t, b.Publish(Inbound{Channel: "telegram"}))
	_, open := <-b.Subscribe()
	assert.False(t, open)
}
