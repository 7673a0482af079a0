package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
)

func coordinatorCtx(conv string) context.Context {
	return domain.WithSkillContext(context.Background(), &domain.SkillContext{ConversationID: conv, UserID: "u1"})
}

func TestCoordinatorLeavesTurnWithoutForm(t *testing.T) {
	f := newFixture(t, SubmitOptimistic)
	c := NewCoordinator(f.engine, testLogger())

	res, err := c.Execute(coordinatorCtx("c1"), domain.SkillInput{Message: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.NextSkill)
}

func TestCoordinatorHandsTurnToOpenForm(t *testing.T) {
	f := newFixture(t, SubmitOptimistic)
	c := NewCoordinator(f.engine, testLogger())
	_, err := f.engine.Start(context.Background(), f.turn("c1"), "workflow:contact-crud",
		f.action(t, "contact-crud", schema.OpCreate), nil)
	require.NoError(t, err)

	res, err := c.Execute(coordinatorCtx("c1"), domain.SkillInput{Message: "Jane"})
	require.NoError(t, err)
	assert.Equal(t, "workflow:contact-crud", res.NextSkill)
	assert.Equal(t, domain.Handoff{Action: domain.ActionAnswer}, res.Data)

	res, err = c.Execute(coordinatorCtx("other"), domain.SkillInput{Message: "Jane"})
	require.NoError(t, err)
	assert.Empty(t, res.NextSkill, "forms belong to one conversation")
}

func TestCoordinatorStatusAndCancel(t *testing.T) {
	f := newFixture(t, SubmitOptimistic)
	c := NewCoordinator(f.engine, testLogger())
	ctx := coordinatorCtx("c1")

	res, err := c.Execute(ctx, domain.SkillInput{Action: ActionStatus})
	require.NoError(t, err)
	assert.Equal(t, domain.Reply{Message: "There is no form in progress."}, res.Data)

	_, err = f.engine.Start(context.Background(), f.turn("c1"), "workflow:contact-crud",
		f.action(t, "contact-crud", schema.OpCreate), nil)
	require.NoError(t, err)

	res, err = c.Execute(ctx, domain.SkillInput{Action: ActionStatus})
	require.NoError(t, err)
	step, ok := res.Data.(*Step)
	require.True(t, ok)
	assert.Equal(t, "first_name", step.Field)

	res, err = c.Execute(ctx, domain.SkillInput{Action: domain.ActionCancel})
	require.NoError(t, err)
	step, ok = res.Data.(*Step)
	require.True(t, ok)
	assert.Equal(t, StepCancelled, step.Kind)

	res, err = c.Execute(ctx, domain.SkillInput{Action: domain.ActionCancel})
	require.NoError(t, err)
	assert.Equal(t, domain.Reply{Message: "There is no form in progress."}, res.Data)
}
