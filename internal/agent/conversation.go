// Package agent runs conversations: it owns each conversation's persisted
// state and dispatches every user turn to the skill that should answer it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
	"skillbot/internal/skill"
)

// Defaults applied by NewConversation.
const (
	DefaultMaxChain     = 4
	DefaultHistoryLimit = 20
)

// Deps are the collaborators shared by every conversation.
type Deps struct {
	Manager *skill.Manager
	Router  *IntentRouter
	Store   *ConversationStore
	Env     *domain.Environment
	Events  *bus.EventBus
	Logger  *slog.Logger
}

// Options bound the work done for one turn. A zero TurnTimeout disables the
// turn deadline.
type Options struct {
	TurnTimeout  time.Duration
	MaxChain     int
	HistoryLimit int
}

// turnResult is what dispatch produced for one turn.
type turnResult struct {
	outcomes []skill.Outcome
	reply    string
	ok       bool
	fallback bool
	clear    bool
}

func (r turnResult) last() (skill.Outcome, bool) {
	if len(r.outcomes) == 0 {
		return skill.Outcome{}, false
	}
	return r.outcomes[len(r.outcomes)-1], true
}

// Conversation is the actor for one conversation. Turns are serialised: a turn
// is not admitted until the previous one has been answered and persisted.
type Conversation struct {
	id     string
	userID string
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state *domain.ConversationState
	ready bool
	// abandoned is closed when a timed-out skill chain finally returns. Its
	// events are muted and the next turn waits for it.
	abandoned <-chan struct{}
	muted     atomic.Bool

	emitMu   sync.RWMutex
	emitters map[int]domain.Emitter
	nextEmit int
}

func NewConversation(id, userID string, deps Deps, opts Options) *Conversation {
	if opts.MaxChain <= 0 {
		opts.MaxChain = DefaultMaxChain
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if deps.Env == nil {
		deps.Env = &domain.Environment{}
	}
	return &Conversation{
		id:       id,
		userID:   userID,
		deps:     deps,
		opts:     opts,
		logger:   deps.Logger.With("conversation", id),
		now:      time.Now,
		emitters: make(map[int]domain.Emitter),
	}
}

func (c *Conversation) ID() string { return c.id }

// Attach adds a transport that receives this conversation's events. The
// returned function detaches it.
func (c *Conversation) Attach(e domain.Emitter) (detach func()) {
	c.emitMu.Lock()
	id := c.nextEmit
	c.nextEmit++
	c.emitters[id] = e
	c.emitMu.Unlock()
	return func() {
		c.emitMu.Lock()
		delete(c.emitters, id)
		c.emitMu.Unlock()
	}
}

func (c *Conversation) emit(out domain.Outbound) {
	c.emitMu.RLock()
	targets := make([]domain.Emitter, 0, len(c.emitters))
	for _, e := range c.emitters {
		targets = append(targets, e)
	}
	c.emitMu.RUnlock()
	for _, e := range targets {
		e.Emit(out)
	}
}

// skillEmit is the emitter of the skill chain; it goes quiet once the chain
// has been abandoned.
func (c *Conversation) skillEmit(out domain.Outbound) {
	if c.muted.Load() {
		return
	}
	c.emit(out)
}

// Initialize loads the conversation's state, creating it only when none is
// stored, and sends welcome to every attached transport. Calling it again
// never creates a second session or drops messages.
func (c *Conversation) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureState(ctx); err != nil {
		return err
	}
	c.emit(c.welcome())
	return nil
}

// Connect attaches e, initializes the conversation and sends welcome to e only.
func (c *Conversation) Connect(ctx context.Context, e domain.Emitter) (detach func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureState(ctx); err != nil {
		return nil, err
	}
	detach = c.Attach(e)
	e.Emit(c.welcome())
	return detach, nil
}

// ensureState must be called with mu held.
func (c *Conversation) ensureState(ctx context.Context) error {
	if c.state == nil {
		state, created, err := c.deps.Store.GetOrCreate(ctx, c.id, c.userID)
		if err != nil {
			return fmt.Errorf("initialize conversation %s: %w", c.id, err)
		}
		c.state = state
		if created {
			c.deps.Events.Emit(bus.Event{
				Type:    bus.EventConversationCreated,
				Source:  "agent",
				Payload: map[string]any{"conversation": c.id, "session": state.SessionID, "user": c.userID},
			})
		}
	}
	if !c.ready {
		c.ready = true
		c.logger.Debug("conversation ready", "session", c.state.SessionID, "messages", len(c.state.Messages))
	}
	return nil
}

func (c *Conversation) welcome() domain.Outbound {
	return domain.Outbound{
		Type:             domain.EventWelcome,
		SessionID:        c.state.SessionID,
		AvailableDomains: c.deps.Manager.Domains(),
		AvailableSkills:  c.deps.Manager.Skills(),
	}
}

// Close marks the conversation as disconnected and detaches every transport.
// Persisted and in-memory state are kept.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()

	c.emitMu.Lock()
	c.emitters = make(map[int]domain.Emitter)
	c.emitMu.Unlock()
}

// State returns a copy of the conversation state, or nil before Initialize.
func (c *Conversation) State() *domain.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.state)
}

func snapshot(s *domain.ConversationState) *domain.ConversationState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = s.Recent(0)
	cp.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		cp.Context[k] = v
	}
	return &cp
}

// Run handles turns until the channel closes or ctx is done.
func (c *Conversation) Run(ctx context.Context, turns <-chan domain.InboundTurn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case turn, ok := <-turns:
			if !ok {
				return nil
			}
			if err := c.HandleTurn(ctx, turn); err != nil {
				c.logger.Error("turn failed", "err", err)
			}
		}
	}
}

// HandleTurn answers one user turn. Skill failures never escape: they become
// the assistant's reply. The returned error reports that the conversation
// could not be loaded or the turn could not be persisted; the reply has been
// delivered either way.
func (c *Conversation) HandleTurn(ctx context.Context, turn domain.InboundTurn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureState(ctx); err != nil {
		c.emit(domain.Outbound{Type: domain.EventError, ErrorMessage: domain.Apology(domain.KindOf(err))})
		return err
	}

	if !c.awaitAbandoned(ctx) {
		c.logger.Warn("previous turn still running, turn rejected")
		c.emit(domain.Outbound{Type: domain.EventError, ErrorMessage: domain.Hint(domain.KindCapacity)})
		return nil
	}

	start := c.now()
	text := strings.TrimSpace(turn.Text())
	if text == "" && turn.SkillID == "" {
		c.emit(domain.Outbound{Type: domain.EventError, ErrorMessage: "Please type a message."})
		return nil
	}

	if text != "" {
		msg := c.state.Append(domain.RoleUser, text, start)
		updateTitle(c.state, text)
		c.emit(domain.Outbound{Type: domain.EventMessageAdded, Message: &msg})
	}

	res, timedOut := c.dispatchWithTimeout(ctx, turn, text)
	reply := c.render(res)
	if res.clear {
		c.state.Messages = []domain.Message{}
		delete(c.state.Context, titleKey)
	}
	if timedOut {
		reply = domain.Apology(domain.KindTimeout)
		c.emit(domain.Outbound{Type: domain.EventError, ErrorMessage: reply})
	}

	msg := c.state.Append(domain.RoleAssistant, reply, c.now())
	c.emit(domain.Outbound{Type: domain.EventMessageAdded, Message: &msg})
	c.emit(domain.Outbound{Type: domain.EventProgress, Stage: domain.StageComplete, Timestamp: c.now()})

	persistErr := c.persist(ctx)

	c.deps.Events.Emit(bus.Event{
		Type:   bus.EventTurnCompleted,
		Source: "agent",
		Payload: map[string]any{
			"conversation": c.id,
			"success":      res.ok && !timedOut,
			"fallback":     res.fallback,
			"skills":       len(res.outcomes),
			"timed_out":    timedOut,
			"duration_ms":  c.now().Sub(start).Milliseconds(),
		},
	})
	return persistErr
}

// dispatchWithTimeout runs dispatch under the turn deadline. A chain that
// outlives the deadline is abandoned: the turn is answered, the chain's
// events are muted and the next turn waits in awaitAbandoned.
func (c *Conversation) dispatchWithTimeout(ctx context.Context, turn domain.InboundTurn, text string) (turnResult, bool) {
	sc := c.skillContext()
	if c.opts.TurnTimeout <= 0 {
		return c.dispatch(ctx, turn, text, sc), false
	}

	tctx, cancel := context.WithTimeout(ctx, c.opts.TurnTimeout)
	defer cancel()

	done := make(chan turnResult, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- c.dispatch(tctx, turn, text, sc)
	}()

	select {
	case res := <-done:
		return res, errors.Is(tctx.Err(), context.DeadlineExceeded) && !res.ok
	case <-tctx.Done():
		c.logger.Warn("turn timed out", "timeout", c.opts.TurnTimeout)
		c.muted.Store(true)
		c.abandoned = finished
		return turnResult{}, true
	}
}

// awaitAbandoned blocks until an abandoned chain has returned, for at most the
// turn timeout. It reports whether the next turn may run. Must be called with
// mu held.
func (c *Conversation) awaitAbandoned(ctx context.Context) bool {
	if c.abandoned == nil {
		return true
	}
	wait := ctx
	if c.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, c.opts.TurnTimeout)
		defer cancel()
	}
	select {
	case <-c.abandoned:
		c.abandoned = nil
		c.muted.Store(false)
		return true
	case <-wait.Done():
		return false
	}
}

// skillContext builds the per-turn context. Skills see a snapshot of the
// state so an abandoned skill cannot race the next turn.
func (c *Conversation) skillContext() *domain.SkillContext {
	state := snapshot(c.state)
	return &domain.SkillContext{
		ConversationID: c.id,
		UserID:         c.userID,
		Env:            c.deps.Env,
		Emit:           domain.EmitterFunc(c.skillEmit),
		State:          state,
		History:        state.Recent(c.opts.HistoryLimit),
		Shared:         make(map[string]any),
	}
}

// dispatch picks the skill for the turn: an explicit skill id, a chat
// command, the open form, a routed workflow, or the conversation fallback.
func (c *Conversation) dispatch(ctx context.Context, turn domain.InboundTurn, text string, sc *domain.SkillContext) turnResult {
	if turn.SkillID != "" {
		return c.chain(ctx, sc, turn.SkillID, domain.SkillInput{Action: turn.Action, Message: text, Data: turn.Data})
	}

	if cmd := ParseCommand(text); cmd != nil {
		if res, ok := c.command(ctx, cmd, sc); ok {
			return res
		}
	}

	coord := c.deps.Manager.Run(ctx, skill.ExecuteOptions{
		SkillID: domain.SkillWorkflowCoordinator,
		Context: sc,
		Input:   domain.SkillInput{Message: text},
	})
	if coord.OK() && coord.Result.NextSkill != "" {
		c.progress(domain.StageExecutingWorkflow, coord.Result.NextSkill)
		c.emitResult(coord)
		return c.follow(ctx, sc, coord, text, turnResult{outcomes: []skill.Outcome{coord}})
	}
	if coord.Err != nil && coord.Err.Kind != domain.KindNotFound {
		c.logger.Warn("workflow coordinator failed, routing instead", "err", coord.Err)
	}

	c.progress(domain.StageDetectingIntent, "")
	if intent := c.deps.Router.Detect(ctx, text, sc); intent != nil {
		if c.deps.Router.CanRoute(intent.Domain, intent.Label) {
			c.progress(domain.StageExecutingWorkflow, intent.SkillID())
			o := c.deps.Router.ExecuteWorkflow(ctx, intent, text, sc)
			c.emitResult(o)
			if o.Err == nil {
				return c.follow(ctx, sc, o, text, turnResult{outcomes: []skill.Outcome{o}})
			}
			c.logger.Warn("routed workflow failed, falling back to conversation", "skill", o.SkillID, "err", o.Err)
		} else {
			c.logger.Debug("no workflow for intent", "domain", intent.Domain, "intent", intent.Label)
			sc.Shared[domain.SharedUnroutedIntent] = intent
		}
	}

	c.progress(domain.StageExecutingConversation, "")
	res := c.chain(ctx, sc, domain.SkillConversation, domain.SkillInput{Message: text})
	res.fallback = true
	return res
}

// chain runs skillID and then every skill it hands the turn to.
func (c *Conversation) chain(ctx context.Context, sc *domain.SkillContext, skillID string, input domain.SkillInput) turnResult {
	o := c.deps.Manager.Run(ctx, skill.ExecuteOptions{SkillID: skillID, Context: sc, Input: input})
	c.emitResult(o)
	return c.follow(ctx, sc, o, input.Message, turnResult{outcomes: []skill.Outcome{o}})
}

// follow continues the turn through NextSkill hand-offs, at most MaxChain
// skills in total.
func (c *Conversation) follow(ctx context.Context, sc *domain.SkillContext, o skill.Outcome, text string, res turnResult) turnResult {
	for o.OK() && o.Result.NextSkill != "" {
		if len(res.outcomes) >= c.opts.MaxChain {
			c.logger.Warn("skill chain limit reached", "limit", c.opts.MaxChain, "next", o.Result.NextSkill)
			break
		}
		input := domain.SkillInput{Message: text}
		if h, ok := handoff(o.Result.Data); ok {
			input.Action = h.Action
			input.Data = h.Data
		}
		o = c.deps.Manager.Run(ctx, skill.ExecuteOptions{SkillID: o.Result.NextSkill, Context: sc, Input: input})
		c.emitResult(o)
		res.outcomes = append(res.outcomes, o)
	}
	res.ok = o.OK()
	return res
}

func handoff(data any) (domain.Handoff, bool) {
	switch h := data.(type) {
	case domain.Handoff:
		return h, true
	case *domain.Handoff:
		if h != nil {
			return *h, true
		}
	}
	return domain.Handoff{}, false
}

func (c *Conversation) emitResult(o skill.Outcome) {
	c.skillEmit(domain.Outbound{
		Type:      domain.EventSkillResult,
		SkillID:   o.SkillID,
		Domain:    o.Domain,
		Success:   o.OK(),
		Data:      resultData(o),
		NextSkill: o.Result.NextSkill,
	})
}

// resultData keeps raw error text out of outbound events.
func resultData(o skill.Outcome) any {
	if o.Err != nil {
		return map[string]any{"error": userMessage(o)}
	}
	return o.Result.Data
}

func (c *Conversation) progress(stage, details string) {
	c.skillEmit(domain.Outbound{Type: domain.EventProgress, Stage: stage, Details: details, Timestamp: c.now()})
}

// render turns the final outcome into the assistant's plain-language reply.
func (c *Conversation) render(res turnResult) string {
	if res.reply != "" {
		return res.reply
	}
	o, ok := res.last()
	if !ok {
		return domain.Apology(domain.KindExecution)
	}
	if o.Err != nil {
		return userMessage(o)
	}
	if t, ok := o.Result.Data.(domain.Texter); ok {
		if text := strings.TrimSpace(t.Text()); text != "" {
			return text
		}
	}
	if !o.Result.Success {
		return domain.Apology(domain.KindExecution)
	}
	return "Done."
}

func userMessage(o skill.Outcome) string {
	if o.Err.Kind == domain.KindNotFound {
		return domain.Hint(domain.KindNotFound)
	}
	return domain.Apology(o.Err.Kind)
}

// persist writes the state once per turn. On failure the in-memory state stays
// authoritative and the user is told the change may not have been saved.
func (c *Conversation) persist(ctx context.Context) error {
	err := c.deps.Store.Save(context.WithoutCancel(ctx), c.id, c.state)
	if err == nil {
		return nil
	}
	c.logger.Error("failed to persist conversation", "err", err)
	c.emit(domain.Outbound{Type: domain.EventError, ErrorMessage: domain.Hint(domain.KindPersistence)})
	c.deps.Events.Emit(bus.Event{
		Type:    bus.EventPersistenceFailed,
		Source:  "agent",
		Payload: map[string]any{"conversation": c.id, "key": ConversationKey(c.id)},
	})
	return err
}
