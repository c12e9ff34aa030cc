// Package metrics provides a small Prometheus-compatible metrics collector
// for the bot. It writes the text exposition format without pulling in
// prometheus/client_golang.
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

// Default is the process-wide collector the predefined metrics live in.
var Default = NewCollector("web2pdf")

// Collector aggregates counters, gauges and histograms.
type Collector struct {
	namespace string
	startTime time.Time

	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewCollector creates a collector; namespace prefixes the uptime metric.
func NewCollector(namespace string) *Collector {
	return &Collector{
		namespace:  namespace,
		startTime:  time.Now(),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }

func (c *Counter) Add(n int64) { c.value.Add(n) }

func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }

func (g *Gauge) Inc() { g.value.Add(1) }

func (g *Gauge) Dec() { g.value.Add(-1) }

func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter with the given name and labels, creating it on
// first use.
func (c *Collector) Counter(name, help, labels string) *Counter {
	k := key(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[k]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[k] = ctr
	return ctr
}

// Gauge returns the gauge with the given name and labels, creating it on
// first use.
func (c *Collector) Gauge(name, help, labels string) *Gauge {
	k := key(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[k]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	c.gauges[k] = g
	return g
}

// Histogram returns the histogram with the given name and labels, creating
// it with the given upper bounds on first use. A +Inf bucket is always added.
func (c *Collector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	k := key(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[k]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	hb := make([]histBucket, len(bounds))
	for i, b := range bounds {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	c.histograms[k] = h
	return h
}

// WriteTo renders all metrics in Prometheus text format, sorted by name.
func (c *Collector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	uptime := c.namespace + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", uptime)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", uptime)
	fmt.Fprintf(&sb, "%s %d\n", uptime, int64(c.Uptime().Seconds()))

	c.mu.RLock()
	counters := make([]*Counter, 0, len(c.counters))
	for _, ctr := range c.counters {
		counters = append(counters, ctr)
	}
	gauges := make([]*Gauge, 0, len(c.gauges))
	for _, g := range c.gauges {
		gauges = append(gauges, g)
	}
	histograms := make([]*Histogram, 0, len(c.histograms))
	for _, h := range c.histograms {
		histograms = append(histograms, h)
	}
	c.mu.RUnlock()

	sort.Slice(counters, func(i, j int) bool {
		return key(counters[i].name, counters[i].labels) < key(counters[j].name, counters[j].labels)
	})
	sort.Slice(gauges, func(i, j int) bool {
		return key(gauges[i].name, gauges[i].labels) < key(gauges[j].name, gauges[j].labels)
	})
	sort.Slice(histograms, func(i, j int) bool {
		return key(histograms[i].name, histograms[i].labels) < key(histograms[j].name, histograms[j].labels)
	})

	helpWritten := make(map[string]bool)
	for _, ctr := range counters {
		writeHeader(&sb, helpWritten, ctr.name, ctr.help, "counter")
		writeSample(&sb, ctr.name, ctr.labels, fmt.Sprintf("%d", ctr.Value()))
	}
	for _, g := range gauges {
		writeHeader(&sb, helpWritten, g.name, g.help, "gauge")
		writeSample(&sb, g.name, g.labels, fmt.Sprintf("%d", g.Value()))
	}
	for _, h := range histograms {
		writeHeader(&sb, helpWritten, h.name, h.help, "histogram")
		h.mu.Lock()
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			labels := `le="` + le + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			writeSample(&sb, h.name+"_bucket", labels, fmt.Sprintf("%d", b.count))
		}
		writeSample(&sb, h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum))
		writeSample(&sb, h.name+"_count", h.labels, fmt.Sprintf("%d", h.count))
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, typ string) {
	if written[name] {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, typ)
	written[name] = true
}

func writeSample(sb *strings.Builder, name, labels, value string) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %s\n", name, labels, value)
		return
	}
	fmt.Fprintf(sb, "%s %s\n", name, value)
}

// Handler serves the collector in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = c.WriteTo(w)
	}
}

// --- Metrics used across the bot ---

var (
	EventsTotal     = Default.Counter("web2pdf_events_total", "Protocol events dispatched", "")
	MessagesTotal   = Default.Counter("web2pdf_messages_total", "New messages processed", "")
	MessagesDeleted = Default.Counter("web2pdf_messages_deleted_total", "Messages deleted from the server", "")
	RendersOK       = Default.Counter("web2pdf_renders_total", "PDF renders by result", `result="ok"`)
	RendersFailed   = Default.Counter("web2pdf_renders_total", "PDF renders by result", `result="failed"`)
	HandlerPanics   = Default.Counter("web2pdf_handler_panics_total", "Recovered handler panics", "")
	AccountsServed  = Default.Gauge("web2pdf_accounts", "Accounts served by this process", "")
	RenderLatency   = Default.Histogram("web2pdf_render_seconds", "PDF render latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)
