// Package metrics keeps the engine's turn, skill and workflow counters and
// serves them in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry the engine metrics live in.
var Collector = NewRegistry()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// series is one labelled time series of a family.
type series interface {
	render(w io.Writer, name, labels string)
}

type family struct {
	name   string
	help   string
	kind   kind
	series map[string]series // keyed by label string
}

// Registry holds metric families by name.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	started  time.Time
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), started: time.Now()}
}

// Uptime returns the time since the registry was created.
func (r *Registry) Uptime() time.Duration { return time.Since(r.started) }

// lookup returns the series for name and labels, creating it with mk on
// first use. Re-registering a name with another kind panics.
func (r *Registry) lookup(name, help, labels string, k kind, mk func() series) series {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]series)}
		r.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, not %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	return s
}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

func (c *Counter) render(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s%s %d\n", name, braces(labels), c.Value())
}

// Gauge goes up and down.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.v.Store(v) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }
func (g *Gauge) render(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s%s %d\n", name, braces(labels), g.Value())
}

// Histogram counts observations into cumulative upper-bound buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // per bucket, non-cumulative
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

func (h *Histogram) render(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := labels
	if prefix != "" {
		prefix += ","
	}
	var cumulative int64
	for i, le := range h.bounds {
		cumulative += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{%sle=%q} %d\n", name, prefix, formatBound(le), cumulative)
	}
	fmt.Fprintf(w, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.count)
	fmt.Fprintf(w, "%s_sum%s %g\n", name, braces(labels), h.sum)
	fmt.Fprintf(w, "%s_count%s %d\n", name, braces(labels), h.count)
}

func formatBound(le float64) string {
	if math.IsInf(le, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", le)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Counter returns the counter for name and labels, e.g. `skill="help"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.lookup(name, help, labels, kindCounter, func() series { return &Counter{} }).(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.lookup(name, help, labels, kindGauge, func() series { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name and labels. Buckets are used only
// on first registration; +Inf is implied.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return r.lookup(name, help, labels, kindHistogram, func() series {
		bounds := make([]float64, 0, len(buckets))
		for _, b := range buckets {
			if !math.IsInf(b, 1) {
				bounds = append(bounds, b)
			}
		}
		sort.Float64s(bounds)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// WriteText renders every family, sorted by name and then by labels.
func (r *Registry) WriteText(w io.Writer) {
	fmt.Fprintf(w, "# HELP skillbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(w, "# TYPE skillbot_uptime_seconds gauge\n")
	fmt.Fprintf(w, "skillbot_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.Lock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	type entry struct {
		labels string
		s      series
	}
	snapshot := make([][]entry, len(names))
	for i, name := range names {
		f := r.families[name]
		for labels, s := range f.series {
			snapshot[i] = append(snapshot[i], entry{labels, s})
		}
		sort.Slice(snapshot[i], func(a, b int) bool { return snapshot[i][a].labels < snapshot[i][b].labels })
	}
	families := make([]*family, len(names))
	for i, name := range names {
		families[i] = r.families[name]
	}
	r.mu.Unlock()

	for i, f := range families {
		fmt.Fprintf(w, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", f.name, f.kind)
		for _, e := range snapshot[i] {
			e.s.render(w, f.name, e.labels)
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var sb strings.Builder
		r.WriteText(&sb)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, sb.String())
	}
}

var (
	TurnsTotal          = Collector.Counter("skillbot_turns_total", "Total user turns processed", "")
	TurnFailures        = Collector.Counter("skillbot_turn_failures_total", "Turns that ended with an error event", "")
	FallbackReplies     = Collector.Counter("skillbot_fallback_replies_total", "Turns answered by the conversation skill", "")
	LLMRequestsTotal    = Collector.Counter("skillbot_llm_requests_total", "Total LLM API requests", "")
	LLMFailures         = Collector.Counter("skillbot_llm_failures_total", "Failed LLM API requests", "")
	TurnsDropped        = Collector.Counter("skillbot_turns_dropped_total", "Turns rejected because their conversation queue was full", "")
	PersistFailures     = Collector.Counter("skillbot_persistence_failures_total", "Failed conversation state writes", "")
	WorkflowsStarted    = Collector.Counter("skillbot_workflows_started_total", "Field-collection sessions started", "")
	WorkflowsCompleted  = Collector.Counter("skillbot_workflows_completed_total", "Field-collection sessions completed", "")
	WorkflowsCancelled  = Collector.Counter("skillbot_workflows_cancelled_total", "Field-collection sessions cancelled", "")
	WorkflowsExpired    = Collector.Counter("skillbot_workflows_expired_total", "Field-collection sessions removed by the sweeper", "")
	SubmissionFailures  = Collector.Counter("skillbot_submission_failures_total", "Record submissions that failed", "")
	ActiveConnections   = Collector.Gauge("skillbot_active_connections", "Current websocket connections", "")
	ActiveConversations = Collector.Gauge("skillbot_active_conversations", "Conversations held in memory", "")

	LLMLatency = Collector.Histogram("skillbot_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	TurnLatency = Collector.Histogram("skillbot_turn_latency_seconds", "Turn latency in seconds", "",
		[]float64{0.05, 0.1, 0.5, 1, 5, 10, 30})
)

// SkillExecutions returns the execution counter for one skill and outcome.
func SkillExecutions(skillID string, success bool) *Counter {
	status := "ok"
	if !success {
		status = "error"
	}
	return Collector.Counter("skillbot_skill_executions_total", "Total skill executions",
		fmt.Sprintf("skill=%q,status=%q", skillID, status))
}
