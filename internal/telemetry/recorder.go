// Package telemetry records named latency samples and summarizes them.
//
// Recording never affects control flow. Observers are attached to a Recorder;
// a nil *Recorder is valid and drops everything, so callers can disable
// telemetry by simply not constructing one.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is one latency measurement.
type Sample struct {
	Label    string
	Duration time.Duration
	Tags     map[string]any
	At       time.Time
}

// Observer receives every recorded sample.
type Observer interface {
	Observe(Sample)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Sample)

func (f ObserverFunc) Observe(s Sample) { f(s) }

// Recorder fans samples out to observers and keeps per-label aggregates.
type Recorder struct {
	logger *zap.Logger

	mu        sync.Mutex
	observers []Observer
	stats     map[string]*labelStats
}

type labelStats struct {
	count    int
	min, max time.Duration
	sum      time.Duration
}

// Summary is the aggregate for one label.
type Summary struct {
	Label string
	Count int
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// NewRecorder builds a recorder that logs each sample at debug level.
func NewRecorder(logger *zap.Logger, observers ...Observer) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		logger:    logger.With(zap.String("component", "telemetry")),
		observers: observers,
		stats:     make(map[string]*labelStats),
	}
}

// AddObserver attaches o to the recorder.
func (r *Recorder) AddObserver(o Observer) {
	if r == nil || o == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Record stores one sample. Tags may be nil.
func (r *Recorder) Record(label string, d time.Duration, tags map[string]any) {
	if r == nil {
		return
	}
	s := Sample{Label: label, Duration: d, Tags: tags, At: time.Now()}

	r.mu.Lock()
	st, ok := r.stats[label]
	if !ok {
		st = &labelStats{min: d, max: d}
		r.stats[label] = st
	}
	st.count++
	st.sum += d
	if d < st.min {
		st.min = d
	}
	if d > st.max {
		st.max = d
	}
	observers := r.observers
	r.mu.Unlock()

	fields := []zap.Field{zap.String("label", label), zap.Int64("ms", d.Milliseconds())}
	if len(tags) > 0 {
		fields = append(fields, zap.Any("tags", tags))
	}
	r.logger.Debug("latency", fields...)

	for _, o := range observers {
		o.Observe(s)
	}
}

// Since records time.Since(start) under label.
func (r *Recorder) Since(label string, start time.Time, tags map[string]any) {
	r.Record(label, time.Since(start), tags)
}

// Summaries returns per-label aggregates sorted by label.
func (r *Recorder) Summaries() []Summary {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]Summary, 0, len(r.stats))
	for label, st := range r.stats {
		out = append(out, Summary{
			Label: label,
			Count: st.count,
			Min:   st.min,
			Max:   st.max,
			Avg:   st.sum / time.Duration(st.count),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Report renders the summaries as a readable block, or "" when empty.
func (r *Recorder) Report() string {
	sums := r.Summaries()
	if len(sums) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("===== LATENCY SUMMARY =====\n")
	for _, s := range sums {
		fmt.Fprintf(&b, "  %s: avg=%dms  min=%dms  max=%dms  samples=%d\n",
			s.Label, s.Avg.Milliseconds(), s.Min.Milliseconds(), s.Max.Milliseconds(), s.Count)
	}
	b.WriteString("===========================")
	return b.String()
}

// Flush logs the current report.
func (r *Recorder) Flush() {
	if r == nil {
		return
	}
	for _, s := range r.Summaries() {
		r.logger.Info("latency summary",
			zap.String("label", s.Label),
			zap.Int("samples", s.Count),
			zap.Int64("avg_ms", s.Avg.Milliseconds()),
			zap.Int64("min_ms", s.Min.Milliseconds()),
			zap.Int64("max_ms", s.Max.Milliseconds()),
		)
	}
}

// Run flushes every interval until ctx is done.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	if r == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Flush()
		}
	}
}
