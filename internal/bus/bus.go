package bus

import (
	"log/slog"
	"sync"
	"time"

	"skillbot/internal/domain"
)

const publishTimeout = 10 * time.Second

// Inbound is a user turn received by a channel adapter.
type Inbound struct {
	Channel        string
	ConversationID string
	UserID         string
	Turn           domain.InboundTurn
}

// Outbound is an engine event addressed to the channel that owns a conversation.
type Outbound struct {
	Channel        string
	ConversationID string
	Event          domain.Outbound
}

// TurnBus carries turns from queue-based channels (Telegram, CLI) to the
// dispatcher and engine events back to the channel.
type TurnBus struct {
	inbound  chan Inbound
	handlers map[string]func(Outbound)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// NewTurnBus creates a TurnBus with the given buffer size.
func NewTurnBus(bufferSize int, logger *slog.Logger) *TurnBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &TurnBus{
		inbound:  make(chan Inbound, bufferSize),
		handlers: make(map[string]func(Outbound)),
		logger:   logger,
	}
}

// Publish queues a turn. It blocks up to 10 seconds when the buffer is full
// and drops the turn after that.
func (b *TurnBus) Publish(msg Inbound) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return false
	}

	select {
	case b.inbound <- msg:
		return true
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "conversation", msg.ConversationID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		b.logger.Info("turn delivered after wait", "channel", msg.Channel)
		return true
	case <-timer.C:
		b.logger.Error("turn dropped: bus full for 10s", "channel", msg.Channel, "conversation", msg.ConversationID)
		return false
	}
}

// Subscribe returns the inbound queue. It is closed by Close.
func (b *TurnBus) Subscribe() <-chan Inbound {
	return b.inbound
}

// SendOutbound hands an event to the channel's handler.
func (b *TurnBus) SendOutbound(msg Outbound) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

// OnOutbound registers the delivery handler of a channel.
func (b *TurnBus) OnOutbound(channel string, handler func(Outbound)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = handler
}

func (b *TurnBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
