package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
	"skillbot/internal/schema"
)

// TaskStatus is the state of a submission task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// Submission is a completed form on its way to the record store.
type Submission struct {
	SessionID      string
	ConversationID string
	UserID         string
	Schema         schema.ActionSchema
	Values         schema.Values
	Records        domain.EntityRepository
}

// Task is a snapshot of one submission attempt.
type Task struct {
	ID             string               `json:"id"`
	SessionID      string               `json:"sessionId"`
	ConversationID string               `json:"conversationId"`
	SchemaID       string               `json:"schemaId"`
	Status         TaskStatus           `json:"status"`
	Result         *domain.RecordResult `json:"result,omitempty"`
	Error          string               `json:"error,omitempty"`
	Kind           domain.ErrorKind     `json:"kind,omitempty"`
	StartedAt      time.Time            `json:"startedAt"`
	DoneAt         time.Time            `json:"doneAt,omitempty"`
}

// Handle tracks one submission. Each submission is attempted at most once:
// there is no retry, and a failed task stays failed.
type Handle struct {
	ID   string
	done chan struct{}
	s    *Submitter
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Task, error) {
	select {
	case <-h.done:
		t, _ := h.s.Get(h.ID)
		return t, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Done is closed when the task finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Submitter runs submissions in the background and remembers their outcome.
type Submitter struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	nextID  int
	wg      sync.WaitGroup
	timeout time.Duration
	events  *bus.EventBus
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter whose tasks give up after timeout.
func NewSubmitter(timeout time.Duration, events *bus.EventBus, logger *slog.Logger) *Submitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Submitter{
		tasks:   make(map[string]*Task),
		timeout: timeout,
		events:  events,
		logger:  logger,
	}
}

// Submit starts the submission and returns immediately. The task outlives the
// caller's context cancellation but not the submitter timeout.
func (s *Submitter) Submit(ctx context.Context, sub Submission) *Handle {
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("submit-%d", s.nextID)
	task := &Task{
		ID:             id,
		SessionID:      sub.SessionID,
		ConversationID: sub.ConversationID,
		SchemaID:       sub.Schema.ID,
		Status:         TaskPending,
		StartedAt:      time.Now(),
	}
	s.tasks[id] = task
	s.mu.Unlock()

	h := &Handle{ID: id, done: make(chan struct{}), s: s}
	s.logger.Info("submission queued", "id", id, "schema", sub.Schema.ID, "conversation", sub.ConversationID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)

		s.mu.Lock()
		task.Status = TaskRunning
		s.mu.Unlock()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		res, err := perform(runCtx, sub)

		s.mu.Lock()
		task.DoneAt = time.Now()
		task.Result = res
		switch {
		case err != nil:
			task.Status = TaskFailed
			task.Error = err.Error()
			task.Kind = domain.Classify(err)
		case !res.Success:
			task.Status = TaskFailed
			task.Error = res.Error
			task.Kind = domain.KindNotFound
		default:
			task.Status = TaskComplete
		}
		snapshot := *task
		s.mu.Unlock()

		if snapshot.Status == TaskFailed {
			s.logger.Error("submission failed", "id", id, "schema", sub.Schema.ID, "kind", snapshot.Kind, "err", snapshot.Error)
		} else {
			s.logger.Info("submission completed", "id", id, "schema", sub.Schema.ID)
		}
		s.events.Emit(bus.Event{
			Type:   bus.EventSubmissionFinished,
			Source: "workflow",
			Payload: map[string]any{
				"task":         id,
				"schema":       sub.Schema.ID,
				"conversation": sub.ConversationID,
				"success":      snapshot.Status == TaskComplete,
			},
		})
	}()

	return h
}

// perform makes the single repository call for the submission.
func perform(ctx context.Context, sub Submission) (*domain.RecordResult, error) {
	if sub.Records == nil {
		return nil, domain.Execution("submit "+sub.Schema.ID, errors.New("no record store configured"))
	}
	payload := sub.Values.Plain()
	id, _ := payload[schema.IDField].(string)
	delete(payload, schema.IDField)

	var (
		res *domain.RecordResult
		err error
	)
	switch sub.Schema.Operation {
	case schema.OpCreate:
		res, err = sub.Records.Create(ctx, sub.UserID, sub.Schema.Entity, payload)
	case schema.OpUpdate:
		res, err = sub.Records.Update(ctx, sub.UserID, sub.Schema.Entity, id, payload)
	case schema.OpDelete:
		res, err = sub.Records.Delete(ctx, sub.UserID, sub.Schema.Entity, id)
	case schema.OpRead:
		res, err = sub.Records.Read(ctx, sub.UserID, sub.Schema.Entity, id)
	default:
		return nil, domain.Execution("submit "+sub.Schema.ID, fmt.Errorf("unknown operation %q", sub.Schema.Operation))
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, domain.Execution("submit "+sub.Schema.ID, errors.New("record store returned no result"))
	}
	return res, nil
}

// Get returns a snapshot of the task.
func (s *Submitter) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns snapshots of every remembered task.
func (s *Submitter) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// Clean forgets finished tasks older than maxAge and returns how many it removed.
func (s *Submitter) Clean(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range s.tasks {
		if (t.Status == TaskComplete || t.Status == TaskFailed) && t.DoneAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// Drain waits for in-flight submissions, up to ctx.
func (s *Submitter) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
