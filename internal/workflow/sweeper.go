package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"skillbot/internal/bus"
)

// Sweeper removes forms that have been idle longer than the TTL.
type Sweeper struct {
	store     *Store
	submitter *Submitter
	ttl       time.Duration
	scheduler *cron.Cron
	events    *bus.EventBus
	logger    *slog.Logger
}

func NewSweeper(store *Store, submitter *Submitter, ttl time.Duration, events *bus.EventBus, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		submitter: submitter,
		ttl:       ttl,
		scheduler: cron.New(),
		events:    events,
		logger:    logger,
	}
}

// Start schedules Sweep on the cron spec, e.g. "@every 5m".
func (s *Sweeper) Start(spec string) error {
	if _, err := s.scheduler.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background(), time.Now()); err != nil {
			s.logger.Error("workflow sweep failed", "err", err)
		}
	}); err != nil {
		return err
	}
	s.scheduler.Start()
	s.logger.Info("workflow sweeper started", "schedule", spec, "ttl", s.ttl)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.scheduler.Stop().Done()
}

// Sweep deletes sessions idle since now-ttl and forgets finished submission
// tasks of the same age. It returns the number of sessions removed.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.Stale(ctx, now.Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn("cannot delete stale session", "conversation", id, "err", err)
			continue
		}
		removed++
	}
	tasks := 0
	if s.submitter != nil {
		tasks = s.submitter.Clean(s.ttl)
	}
	if removed > 0 {
		s.events.Emit(bus.Event{Type: bus.EventWorkflowExpired, Source: "workflow", Payload: map[string]any{"count": removed}})
		s.logger.Info("stale workflow sessions removed", "count", removed, "tasks", tasks)
	}
	return removed, nil
}
