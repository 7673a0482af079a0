package skill

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// recordingSkill records lifecycle calls in order.
type recordingSkill struct {
	id      string
	calls   []string
	initErr error
	execFn  func() (*domain.SkillResult, error)
}

func (s *recordingSkill) Metadata() domain.SkillMetadata {
	return domain.SkillMetadata{ID: s.id, Name: s.id, Category: domain.CategoryWorkflow}
}

func (s *recordingSkill) Initialize(context.Context, *domain.SkillContext) error {
	s.calls = append(s.calls, "initialize")
	return s.initErr
}

func (s *recordingSkill) Execute(context.Context, domain.SkillInput) (*domain.SkillResult, error) {
	s.calls = append(s.calls, "execute")
	if s.execFn != nil {
		return s.execFn()
	}
	return &domain.SkillResult{Success: true, Data: s.id}, nil
}

func (s *recordingSkill) Cleanup(context.Context, *domain.SkillContext) {
	s.calls = append(s.calls, "cleanup")
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewRegistry(testLogger()), nil, bus.NewEventBus(testLogger()), testLogger())
}

func TestLifecycleSymmetry(t *testing.T) {
	tests := []struct {
		name      string
		execFn    func() (*domain.SkillResult, error)
		wantOK    bool
		wantError string
	}{
		{"success", nil, true, ""},
		{"error", func() (*domain.SkillResult, error) { return nil, errors.New("db down") }, false, "Skill execution failed: db down"},
		{"panic", func() (*domain.SkillResult, error) { panic("kaboom") }, false, "Skill execution failed: panic: kaboom"},
		{"nil result", func() (*domain.SkillResult, error) { return nil, nil }, false, "Skill execution failed: skill returned no result"},
		{"reported failure", func() (*domain.SkillResult, error) {
			return &domain.SkillResult{Success: false, Error: "record not found"}, nil
		}, false, "record not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t)
			s := &recordingSkill{id: "s", execFn: tt.execFn}
			m.Shared().Register(s)

			o := m.Run(context.Background(), ExecuteOptions{SkillID: "s"})
			assert.Equal(t, []string{"initialize", "execute", "cleanup"}, s.calls)
			assert.Equal(t, tt.wantOK, o.OK())
			assert.Equal(t, tt.wantError, o.Message())
			require.NotNil(t, o.Result)
		})
	}
}

func TestInitializeFailureSkipsExecute(t *testing.T) {
	m := newManager(t)
	s := &recordingSkill{id: "s", initErr: errors.New("no storage")}
	m.Shared().Register(s)

	o := m.Run(context.Background(), ExecuteOptions{SkillID: "s"})
	assert.Equal(t, []string{"initialize", "cleanup"}, s.calls)
	require.NotNil(t, o.Err)
	assert.Equal(t, domain.KindExecution, o.Err.Kind)
}

func TestSkillNotFound(t *testing.T) {
	m := newManager(t)
	s, dom := m.FindSkill("nonexistent")
	assert.Nil(t, s)
	assert.Equal(t, "", dom)

	var gotErr string
	var succeeded bool
	m.ExecuteSkill(context.Background(), ExecuteOptions{SkillID: "nonexistent"},
		func(Outcome) { succeeded = true },
		func(msg string, o Outcome) {
			gotErr = msg
			assert.Equal(t, domain.KindNotFound, o.Err.Kind)
		})
	assert.False(t, succeeded)
	assert.Equal(t, "Skill not found: nonexistent", gotErr)
}

func TestFindSkillPrefersShared(t *testing.T) {
	m := newManager(t)
	shared := &recordingSkill{id: "dup"}
	inGroup := &recordingSkill{id: "dup"}
	m.Shared().Register(shared)

	g := NewGroup("sales", "", nil, testLogger())
	g.Register(inGroup)
	g.Register(&recordingSkill{id: "workflow:account-crud"})
	m.AddGroup(g)

	s, dom := m.FindSkill("dup")
	assert.Same(t, shared, s)
	assert.Equal(t, SharedDomain, dom)

	s, dom = m.FindSkill("workflow:account-crud")
	require.NotNil(t, s)
	assert.Equal(t, "sales", dom)
}

func TestFindSkillGroupOrder(t *testing.T) {
	m := newManager(t)
	first := NewGroup("a", "", nil, testLogger())
	second := NewGroup("b", "", nil, testLogger())
	first.Register(&recordingSkill{id: "x"})
	second.Register(&recordingSkill{id: "x"})
	m.AddGroup(first)
	m.AddGroup(second)

	for i := 0; i < 5; i++ {
		_, dom := m.FindSkill("x")
		assert.Equal(t, "a", dom)
	}
}

func TestGroupInitializedOnceBeforeUse(t *testing.T) {
	m := newManager(t)
	var inits atomic.Int32
	g := NewGroup("sales", "", func(context.Context, domain.StorageAdapter) error {
		inits.Add(1)
		return nil
	}, testLogger())
	g.Register(&recordingSkill{id: "workflow:lead-crud"})
	m.AddGroup(g)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Initialize(context.Background(), nil)
		}()
	}
	wg.Wait()

	o := m.Run(context.Background(), ExecuteOptions{SkillID: "workflow:lead-crud"})
	assert.True(t, o.OK())
	assert.EqualValues(t, 1, inits.Load())
}

func TestGroupInitFailure(t *testing.T) {
	m := newManager(t)
	s := &recordingSkill{id: "workflow:lead-crud"}
	g := NewGroup("sales", "", func(context.Context, domain.StorageAdapter) error {
		return errors.New("migrations failed")
	}, testLogger())
	g.Register(s)
	m.AddGroup(g)

	o := m.Run(context.Background(), ExecuteOptions{SkillID: "workflow:lead-crud"})
	assert.False(t, o.OK())
	assert.Empty(t, s.calls)
}

func TestGroupInitRetriesAfterFailure(t *testing.T) {
	m := newManager(t)
	s := &recordingSkill{id: "workflow:lead-crud"}
	var inits atomic.Int32
	g := NewGroup("sales", "", func(context.Context, domain.StorageAdapter) error {
		if inits.Add(1) == 1 {
			return errors.New("database is locked")
		}
		return nil
	}, testLogger())
	g.Register(s)
	m.AddGroup(g)

	first := m.Run(context.Background(), ExecuteOptions{SkillID: "workflow:lead-crud"})
	assert.False(t, first.OK())

	second := m.Run(context.Background(), ExecuteOptions{SkillID: "workflow:lead-crud"})
	assert.True(t, second.OK(), second.Message())
	m.Run(context.Background(), ExecuteOptions{SkillID: "workflow:lead-crud"})
	assert.EqualValues(t, 2, inits.Load(), "success is remembered")
	executions := 0
	for _, c := range s.calls {
		if c == "execute" {
			executions++
		}
	}
	assert.Equal(t, 2, executions)
}

func TestGroupInitIgnoresCallerCancellation(t *testing.T) {
	g := NewGroup("sales", "", func(ctx context.Context, _ domain.StorageAdapter) error {
		return ctx.Err()
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, g.Initialize(ctx, nil))
	require.NoError(t, g.Initialize(context.Background(), nil))
}

func TestRunEmitsEvent(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	m := NewManager(NewRegistry(testLogger()), nil, eb, testLogger())
	m.Shared().Register(&recordingSkill{id: "help"})

	var got bus.Event
	eb.On(bus.EventSkillExecuted, func(e bus.Event) { got = e })
	m.Run(context.Background(), ExecuteOptions{SkillID: "help"})

	assert.Equal(t, "help", got.Payload["skill"])
	assert.Equal(t, SharedDomain, got.Payload["domain"])
	assert.Equal(t, true, got.Payload["success"])
}

func TestRoutabilityConsistency(t *testing.T) {
	m := newManager(t)
	g := NewGroup("sales", "", nil, testLogger())
	g.Register(&recordingSkill{id: domain.WorkflowSkillID("account-crud")})
	g.Register(&recordingSkill{id: "helper"})
	m.AddGroup(g)

	assert.True(t, g.CanRoute("account-crud"))
	assert.False(t, g.CanRoute("lead-crud"))
	assert.False(t, g.CanRoute("helper"))
	assert.Equal(t, []string{"account-crud"}, g.Intents())
}

type contextSkill struct{ seen *domain.SkillContext }

func (s *contextSkill) Metadata() domain.SkillMetadata                         { return domain.SkillMetadata{ID: "ctx"} }
func (s *contextSkill) Initialize(context.Context, *domain.SkillContext) error { return nil }
func (s *contextSkill) Execute(ctx context.Context, _ domain.SkillInput) (*domain.SkillResult, error) {
	s.seen = domain.SkillContextFrom(ctx)
	return &domain.SkillResult{Success: true}, nil
}
func (s *contextSkill) Cleanup(context.Context, *domain.SkillContext) {}

func TestExecuteSeesSkillContext(t *testing.T) {
	m := newManager(t)
	s := &contextSkill{}
	m.Shared().Register(s)

	sc := &domain.SkillContext{ConversationID: "c1"}
	m.Run(context.Background(), ExecuteOptions{SkillID: "ctx", Context: sc})
	assert.Same(t, sc, s.seen)
	assert.NotNil(t, sc.Shared)
}
