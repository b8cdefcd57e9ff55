// Package metrics keeps the dispatch counters of Triger and renders them in
// the Prometheus text exposition format.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// Registry holds metric families keyed by name.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	started  time.Time
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), started: time.Now()}
}

// family is one metric name with a fixed label schema. Each distinct set of
// label values is one series.
type family struct {
	name    string
	help    string
	kind    kind
	labels  []string
	buckets []float64

	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	values []string
	n      atomic.Int64

	mu      sync.Mutex // histograms only
	count   int64
	sum     float64
	buckets []int64
}

// register returns the family called name, creating it on first use. A name
// reused with another kind or label schema is a programming error.
func (r *Registry) register(name, help string, k kind, buckets []float64, labels []string) *family {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.families[name]; ok {
		if f.kind != k || !slices.Equal(f.labels, labels) {
			panic(fmt.Sprintf("metrics: %s re-registered as %s%v, was %s%v", name, k, labels, f.kind, f.labels))
		}
		return f
	}
	f := &family{
		name:    name,
		help:    help,
		kind:    k,
		labels:  labels,
		buckets: buckets,
		series:  make(map[string]*series),
	}
	r.families[name] = f
	return f
}

func (f *family) with(values []string) *series {
	if len(values) != len(f.labels) {
		panic(fmt.Sprintf("metrics: %s wants %d label values, got %d", f.name, len(f.labels), len(values)))
	}
	key := strings.Join(values, "\xff")
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &series{values: slices.Clone(values)}
		if f.kind == kindHistogram {
			s.buckets = make([]int64, len(f.buckets))
		}
		f.series[key] = s
	}
	return s
}

// Counter only goes up.
type Counter struct{ s *series }

func (c Counter) Inc()         { c.s.n.Add(1) }
func (c Counter) Add(n int64)  { c.s.n.Add(n) }
func (c Counter) Value() int64 { return c.s.n.Load() }

// CounterVec is a counter family partitioned by labels.
type CounterVec struct{ f *family }

// With returns the counter for the label values, in label order.
func (v CounterVec) With(values ...string) Counter { return Counter{v.f.with(values)} }

func (r *Registry) NewCounterVec(name, help string, labels ...string) CounterVec {
	return CounterVec{r.register(name, help, kindCounter, nil, labels)}
}

func (r *Registry) NewCounter(name, help string) Counter {
	return r.NewCounterVec(name, help).With()
}

// Gauge goes up and down.
type Gauge struct{ s *series }

func (g Gauge) Set(v int64)  { g.s.n.Store(v) }
func (g Gauge) Inc()         { g.s.n.Add(1) }
func (g Gauge) Dec()         { g.s.n.Add(-1) }
func (g Gauge) Value() int64 { return g.s.n.Load() }

type GaugeVec struct{ f *family }

func (v GaugeVec) With(values ...string) Gauge { return Gauge{v.f.with(values)} }

func (r *Registry) NewGaugeVec(name, help string, labels ...string) GaugeVec {
	return GaugeVec{r.register(name, help, kindGauge, nil, labels)}
}

func (r *Registry) NewGauge(name, help string) Gauge {
	return r.NewGaugeVec(name, help).With()
}

// Histogram counts observations into upper-bounded buckets. The +Inf bucket
// is implicit.
type Histogram struct {
	s      *series
	bounds []float64
}

func (h Histogram) Observe(v float64) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.count++
	h.s.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.s.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h Histogram) Count() int64 {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.count
}

type HistogramVec struct{ f *family }

func (v HistogramVec) With(values ...string) Histogram {
	return Histogram{s: v.f.with(values), bounds: v.f.buckets}
}

func (r *Registry) NewHistogramVec(name, help string, buckets []float64, labels ...string) HistogramVec {
	bounds := slices.Clone(buckets)
	slices.Sort(bounds)
	bounds = slices.DeleteFunc(bounds, func(b float64) bool { return math.IsInf(b, 1) })
	return HistogramVec{r.register(name, help, kindHistogram, bounds, labels)}
}

func (r *Registry) NewHistogram(name, help string, buckets []float64) Histogram {
	return r.NewHistogramVec(name, help, buckets).With()
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration { return time.Since(r.started) }

// WriteTo renders every family, sorted by name, with series sorted by label
// values.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	families := make([]*family, 0, len(r.families))
	for _, f := range r.families {
		families = append(families, f)
	}
	r.mu.Unlock()
	slices.SortFunc(families, func(a, b *family) int { return strings.Compare(a.name, b.name) })

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	fmt.Fprintf(bw, "# HELP triger_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(bw, "# TYPE triger_uptime_seconds gauge\n")
	fmt.Fprintf(bw, "triger_uptime_seconds %d\n", int64(r.Uptime().Seconds()))
	for _, f := range families {
		f.write(bw)
	}
	err := bw.Flush()
	return cw.n, err
}

func (f *family) write(w io.Writer) {
	f.mu.Lock()
	all := make([]*series, 0, len(f.series))
	for _, s := range f.series {
		all = append(all, s)
	}
	f.mu.Unlock()
	if len(all) == 0 {
		return
	}
	slices.SortFunc(all, func(a, b *series) int { return slices.Compare(a.values, b.values) })

	fmt.Fprintf(w, "# HELP %s %s\n", f.name, f.help)
	fmt.Fprintf(w, "# TYPE %s %s\n", f.name, f.kind)
	for _, s := range all {
		if f.kind != kindHistogram {
			fmt.Fprintf(w, "%s%s %d\n", f.name, labelSet(f.labels, s.values, "", ""), s.n.Load())
			continue
		}
		s.mu.Lock()
		for i, le := range f.buckets {
			fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, labelSet(f.labels, s.values, "le", formatFloat(le)), s.buckets[i])
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, labelSet(f.labels, s.values, "le", "+Inf"), s.count)
		fmt.Fprintf(w, "%s_sum%s %s\n", f.name, labelSet(f.labels, s.values, "", ""), formatFloat(s.sum))
		fmt.Fprintf(w, "%s_count%s %d\n", f.name, labelSet(f.labels, s.values, "", ""), s.count)
		s.mu.Unlock()
	}
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// labelSet renders {name="value",...}, with an optional extra pair last.
func labelSet(names, values []string, extraName, extraValue string) string {
	if len(names) == 0 && extraName == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `%s="%s"`, name, labelEscaper.Replace(values[i]))
	}
	if extraName != "" {
		if len(names) > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `%s="%s"`, extraName, extraValue)
	}
	sb.WriteByte('}')
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}
