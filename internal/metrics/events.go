package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"skillbot/internal/bus"
)

// instruments mirror the turn and skill counters into the OpenTelemetry
// meter provider, so they reach the configured exporter too.
type instruments struct {
	turns       metric.Int64Counter
	skills      metric.Int64Counter
	workflows   metric.Int64Counter
	turnLatency metric.Float64Histogram
}

func newInstruments() instruments {
	meter := otel.Meter("skillbot/engine")
	var in instruments
	var err error
	if in.turns, err = meter.Int64Counter("skillbot.turns",
		metric.WithDescription("Turns processed by outcome")); err != nil {
		in.turns = noop.Int64Counter{}
	}
	if in.skills, err = meter.Int64Counter("skillbot.skill.executions",
		metric.WithDescription("Skill executions by skill and outcome")); err != nil {
		in.skills = noop.Int64Counter{}
	}
	if in.workflows, err = meter.Int64Counter("skillbot.workflows",
		metric.WithDescription("Workflow lifecycle transitions")); err != nil {
		in.workflows = noop.Int64Counter{}
	}
	if in.turnLatency, err = meter.Float64Histogram("skillbot.turn.duration",
		metric.WithDescription("Turn latency"), metric.WithUnit("s")); err != nil {
		in.turnLatency = noop.Float64Histogram{}
	}
	return in
}

// Subscribe keeps the engine counters in step with bus events.
func Subscribe(eb *bus.EventBus) {
	in := newInstruments()
	ctx := context.Background()
	workflow := func(state string) metric.AddOption {
		return metric.WithAttributes(attribute.String("state", state))
	}

	eb.On(bus.EventWorkflowStarted, func(bus.Event) {
		WorkflowsStarted.Inc()
		in.workflows.Add(ctx, 1, workflow("started"))
	})
	eb.On(bus.EventWorkflowCompleted, func(bus.Event) {
		WorkflowsCompleted.Inc()
		in.workflows.Add(ctx, 1, workflow("completed"))
	})
	eb.On(bus.EventWorkflowCancelled, func(bus.Event) {
		WorkflowsCancelled.Inc()
		in.workflows.Add(ctx, 1, workflow("cancelled"))
	})
	eb.On(bus.EventWorkflowExpired, func(e bus.Event) {
		if n, ok := e.Payload["count"].(int); ok {
			WorkflowsExpired.Add(int64(n))
			in.workflows.Add(ctx, int64(n), workflow("expired"))
		}
	})
	eb.On(bus.EventSubmissionFinished, func(e bus.Event) {
		if ok, _ := e.Payload["success"].(bool); !ok {
			SubmissionFailures.Inc()
		}
	})
	eb.On(bus.EventPersistenceFailed, func(bus.Event) { PersistFailures.Inc() })
	eb.On(bus.EventTurnCompleted, func(e bus.Event) {
		ok, _ := e.Payload["success"].(bool)
		fallback, _ := e.Payload["fallback"].(bool)
		TurnsTotal.Inc()
		if !ok {
			TurnFailures.Inc()
		}
		if fallback {
			FallbackReplies.Inc()
		}
		attrs := metric.WithAttributes(attribute.Bool("success", ok), attribute.Bool("fallback", fallback))
		in.turns.Add(ctx, 1, attrs)
		if ms, isInt := e.Payload["duration_ms"].(int64); isInt {
			TurnLatency.Observe(float64(ms) / 1000)
			in.turnLatency.Record(ctx, float64(ms)/1000, attrs)
		}
	})
	eb.On(bus.EventSkillExecuted, func(e bus.Event) {
		id, _ := e.Payload["skill"].(string)
		ok, _ := e.Payload["success"].(bool)
		SkillExecutions(id, ok).Inc()
		in.skills.Add(ctx, 1, metric.WithAttributes(attribute.String("skill", id), attribute.Bool("success", ok)))
	})
}
