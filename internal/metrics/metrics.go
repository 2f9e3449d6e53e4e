package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

const maxTimerSamples = 1000

// Metric represents a single counter or gauge with its metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerMetric stores timing information
type TimerMetric struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	Count       int64             `json:"count"`
	Sum         float64           `json:"sum_ms"`
	Min         float64           `json:"min_ms"`
	Max         float64           `json:"max_ms"`
	Average     float64           `json:"avg_ms"`
	P95         float64           `json:"p95_ms,omitempty"`
	P99         float64           `json:"p99_ms,omitempty"`
	samples     []float64
}

// Snapshot is a point-in-time copy of the registry
type Snapshot struct {
	Counters  map[string]Metric      `json:"counters"`
	Timers    map[string]TimerMetric `json:"timers"`
	Gauges    map[string]Metric      `json:"gauges"`
	UptimeMs  int64                  `json:"uptime_ms"`
	Timestamp int64                  `json:"timestamp"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	timers    map[string]*TimerMetric
	gauges    map[string]*Metric
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if counter, exists := r.counters[key]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
		return
	}
	r.counters[key] = &Metric{
		Name:        name,
		Type:        Counter,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// RecordTimer records a duration. Percentiles use the last 1000 samples
// and appear once 10 samples exist.
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	ms := float64(duration.Nanoseconds()) / 1e6

	timer, exists := r.timers[key]
	if !exists {
		r.timers[key] = &TimerMetric{
			Name:        name,
			Labels:      copyLabels(labels),
			Description: description,
			Count:       1,
			Sum:         ms,
			Min:         ms,
			Max:         ms,
			Average:     ms,
			samples:     []float64{ms},
		}
		return
	}

	timer.Count++
	timer.Sum += ms
	timer.Min = min(timer.Min, ms)
	timer.Max = max(timer.Max, ms)
	timer.Average = timer.Sum / float64(timer.Count)

	timer.samples = append(timer.samples, ms)
	if len(timer.samples) > maxTimerSamples {
		timer.samples = timer.samples[len(timer.samples)-maxTimerSamples:]
	}
	if len(timer.samples) >= 10 {
		timer.P95 = percentile(timer.samples, 0.95)
		timer.P99 = percentile(timer.samples, 0.99)
	}
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[metricKey(name, labels)] = &Metric{
		Name:        name,
		Type:        Gauge,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// GetAllMetrics returns a copy of every metric
func (r *Registry) GetAllMetrics() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Counters:  make(map[string]Metric, len(r.counters)),
		Timers:    make(map[string]TimerMetric, len(r.timers)),
		Gauges:    make(map[string]Metric, len(r.gauges)),
		UptimeMs:  time.Since(r.startTime).Milliseconds(),
		Timestamp: time.Now().Unix(),
	}
	for key, c := range r.counters {
		snap.Counters[key] = *c
	}
	for key, t := range r.timers {
		cp := *t
		cp.samples = nil
		snap.Timers[key] = cp
	}
	for key, g := range r.gauges {
		snap.Gauges[key] = *g
	}
	return snap
}

// WritePrometheus writes the registry in the Prometheus text format.
// Timers are exposed as summaries in milliseconds.
func (r *Registry) WritePrometheus(w io.Writer) error {
	snap := r.GetAllMetrics()

	var b strings.Builder
	written := make(map[string]bool)
	header := func(name, kind, help string) {
		if written[name] {
			return
		}
		written[name] = true
		if help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, kind)
	}

	for _, key := range sortedKeys(snap.Counters) {
		m := snap.Counters[key]
		header(m.Name, "counter", m.Description)
		fmt.Fprintf(&b, "%s%s %g\n", m.Name, formatLabels(m.Labels, ""), m.Value)
	}
	for _, key := range sortedKeys(snap.Gauges) {
		m := snap.Gauges[key]
		header(m.Name, "gauge", m.Description)
		fmt.Fprintf(&b, "%s%s %g\n", m.Name, formatLabels(m.Labels, ""), m.Value)
	}
	for _, key := range sortedKeys(snap.Timers) {
		t := snap.Timers[key]
		name := t.Name + "_ms"
		header(name, "summary", t.Description)
		fmt.Fprintf(&b, "%s%s %g\n", name, formatLabels(t.Labels, `quantile="0.95"`), t.P95)
		fmt.Fprintf(&b, "%s%s %g\n", name, formatLabels(t.Labels, `quantile="0.99"`), t.P99)
		fmt.Fprintf(&b, "%s_sum%s %g\n", name, formatLabels(t.Labels, ""), t.Sum)
		fmt.Fprintf(&b, "%s_count%s %d\n", name, formatLabels(t.Labels, ""), t.Count)
	}

	fmt.Fprintf(&b, "# TYPE process_uptime_ms gauge\nprocess_uptime_ms %d\n", snap.UptimeMs)
	_, err := io.WriteString(w, b.String())
	return err
}

// metricKey is name followed by labels in key order
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	for _, k := range sortedKeys(labels) {
		fmt.Fprintf(&b, "_%s:%s", k, labels[k])
	}
	return b.String()
}

func formatLabels(labels map[string]string, extra string) string {
	if len(labels) == 0 && extra == "" {
		return ""
	}
	parts := make([]string, 0, len(labels)+1)
	for _, k := range sortedKeys(labels) {
		v := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(labels[k])
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, v))
	}
	if extra != "" {
		parts = append(parts, extra)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// IncrementCounter increments a counter in the global registry
func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

// AddToCounter adds to a counter in the global registry
func AddToCounter(name string, value float64, labels map[string]string, description string) {
	globalRegistry.AddToCounter(name, value, labels, description)
}

// RecordTimer records timing in the global registry
func RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	globalRegistry.RecordTimer(name, duration, labels, description)
}

// SetGauge sets a gauge in the global registry
func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

// GetAllMetrics returns all metrics from the global registry
func GetAllMetrics() Snapshot {
	return globalRegistry.GetAllMetrics()
}
