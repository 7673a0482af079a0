package agent

import (
	"context"
	"log/slog"
	"sync"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
	"skillbot/internal/metrics"
)

const turnQueueSize = 16

// Hub holds exactly one Conversation per conversation id, however many
// connections or channels address it.
type Hub struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	convs  map[string]*Conversation
	queues map[string]chan domain.InboundTurn
	wg     sync.WaitGroup
}

func NewHub(deps Deps, opts Options) *Hub {
	return &Hub{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
		convs:  make(map[string]*Conversation),
		queues: make(map[string]chan domain.InboundTurn),
	}
}

// Get returns the conversation for id, creating it on first use.
func (h *Hub) Get(id, userID string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getLocked(id, userID)
}

func (h *Hub) getLocked(id, userID string) *Conversation {
	if c, ok := h.convs[id]; ok {
		return c
	}
	c := NewConversation(id, userID, h.deps, h.opts)
	h.convs[id] = c
	metrics.ActiveConversations.Set(int64(len(h.convs)))
	return c
}

// Lookup returns the conversation for id if the hub holds it.
func (h *Hub) Lookup(id string) (*Conversation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.convs[id]
	return c, ok
}

// Len returns the number of conversations held in memory.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.convs)
}

// Connect attaches a transport to the conversation and sends it welcome.
func (h *Hub) Connect(ctx context.Context, id, userID string, e domain.Emitter) (*Conversation, func(), error) {
	c := h.Get(id, userID)
	detach, err := c.Connect(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	return c, detach, nil
}

// Serve feeds turns from a TurnBus to their conversations and delivers the
// events back to the originating channel. Each conversation gets its own
// queue and goroutine, so turns of one conversation stay in order while
// different conversations run independently: a stalled conversation only
// ever rejects its own turns. Serve returns when the bus
// closes or ctx is done, after every queue has drained.
func (h *Hub) Serve(ctx context.Context, turns *bus.TurnBus) error {
	defer h.stopQueues()
	in := turns.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			h.enqueue(ctx, turns, msg)
		}
	}
}

// enqueue hands msg to its conversation's queue, starting the conversation on
// first use. A full queue rejects the turn with an error event.
func (h *Hub) enqueue(ctx context.Context, turns *bus.TurnBus, msg bus.Inbound) {
	h.mu.Lock()
	q, ok := h.queues[msg.ConversationID]
	if !ok {
		c := h.getLocked(msg.ConversationID, msg.UserID)
		q = make(chan domain.InboundTurn, turnQueueSize)
		h.queues[msg.ConversationID] = q

		channel, convID := msg.Channel, msg.ConversationID
		c.Attach(domain.EmitterFunc(func(out domain.Outbound) {
			turns.SendOutbound(bus.Outbound{Channel: channel, ConversationID: convID, Event: out})
		}))

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := c.Run(ctx, q); err != nil && ctx.Err() == nil {
				h.logger.Error("conversation stopped", "conversation", convID, "err", err)
			}
		}()
	}
	h.mu.Unlock()

	select {
	case q <- msg.Turn:
	default:
		// The dispatcher never waits on one conversation.
		metrics.TurnsDropped.Inc()
		h.logger.Warn("conversation queue full, turn rejected", "conversation", msg.ConversationID, "channel", msg.Channel)
		turns.SendOutbound(bus.Outbound{Channel: msg.Channel, ConversationID: msg.ConversationID, Event: domain.Outbound{
			Type:         domain.EventError,
			ErrorMessage: domain.Hint(domain.KindCapacity),
		}})
	}
}

func (h *Hub) stopQueues() {
	h.mu.Lock()
	for id, q := range h.queues {
		close(q)
		delete(h.queues, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Close disconnects every conversation. Their state stays persisted.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.convs {
		c.Close()
	}
	h.logger.Info("conversation hub closed", "conversations", len(h.convs))
}
