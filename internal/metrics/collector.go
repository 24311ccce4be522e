package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Kind classifies how a metric's points are aggregated by Summary.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

// DefaultCapacity is the per-metric ring buffer size.
const DefaultCapacity = 1000

// Point is one recorded sample.
type Point struct {
	At     time.Time         `json:"at"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

// series is a fixed-capacity ring of points. Oldest points are evicted first.
type series struct {
	kind   Kind
	points []Point
	start  int
	count  int
}

func (s *series) append(p Point, capacity int) {
	if len(s.points) < capacity {
		s.points = append(s.points, p)
		s.count++
		return
	}
	// Ring is full: overwrite the oldest slot.
	s.points[s.start] = p
	s.start = (s.start + 1) % capacity
}

// windowed returns values with timestamps at or after cutoff, oldest first.
func (s *series) windowed(cutoff time.Time) []Point {
	out := make([]Point, 0, s.count)
	for i := 0; i < len(s.points); i++ {
		p := s.points[(s.start+i)%len(s.points)]
		if !p.At.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// Summary is the kind-specific aggregate of one metric over a window.
// Counters fill Sum, gauges fill Latest, histograms fill the distribution
// fields. Count is the number of points inside the window for all kinds.
type Summary struct {
	Kind   Kind     `json:"kind"`
	Count  int      `json:"count"`
	Sum    *float64 `json:"sum,omitempty"`
	Latest *float64 `json:"latest,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Avg    *float64 `json:"avg,omitempty"`
	P95    *float64 `json:"p95,omitempty"`
	P99    *float64 `json:"p99,omitempty"`
}

// RateSpec declares a derived percentage computed at summary time as
// numerator/denominator*100. The rate is omitted from a snapshot whenever the
// denominator metric has no points in the window or sums to zero.
type RateSpec struct {
	Numerator   string
	Denominator string
}

// Snapshot is the result of Collector.Summary.
type Snapshot struct {
	TakenAt time.Time          `json:"taken_at"`
	Window  time.Duration      `json:"window"`
	Metrics map[string]Summary `json:"metrics"`
	Rates   map[string]float64 `json:"rates,omitempty"`
}

// Collector records counters, gauges, and histograms into bounded ring
// buffers and computes time-windowed summaries. All methods are safe for
// concurrent use; a single mutex guards every buffer so readers never observe
// a half-evicted ring.
type Collector struct {
	mu       sync.Mutex
	capacity int
	metrics  map[string]*series
	rates    map[string]RateSpec
	now      func() time.Time
}

// NewCollector builds a Collector. capacity <= 0 selects DefaultCapacity.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{
		capacity: capacity,
		metrics:  make(map[string]*series),
		rates:    make(map[string]RateSpec),
		now:      time.Now,
	}
}

// Increment appends amount to a counter-kind metric, creating it if absent.
func (c *Collector) Increment(name string, amount float64, labels map[string]string) {
	c.record(name, KindCounter, amount, labels)
}

// Inc is Increment with amount 1.
func (c *Collector) Inc(name string, labels map[string]string) {
	c.Increment(name, 1, labels)
}

// Gauge appends a gauge point; the most recent point in a window wins.
func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	c.record(name, KindGauge, value, labels)
}

// Observe appends a histogram sample.
func (c *Collector) Observe(name string, value float64, labels map[string]string) {
	c.record(name, KindHistogram, value, labels)
}

// RegisterRate declares a derived rate emitted by Summary under key.
func (c *Collector) RegisterRate(key string, spec RateSpec) {
	c.mu.Lock()
	c.rates[key] = spec
	c.mu.Unlock()
}

func (c *Collector) record(name string, kind Kind, value float64, labels map[string]string) {
	p := Point{At: c.now(), Value: value}
	if len(labels) > 0 {
		p.Labels = make(map[string]string, len(labels))
		for k, v := range labels {
			p.Labels[k] = v
		}
	}
	c.mu.Lock()
	s := c.metrics[name]
	if s == nil {
		s = &series{kind: kind}
		c.metrics[name] = s
	}
	s.append(p, c.capacity)
	c.mu.Unlock()
}

// Summary aggregates every metric over the trailing window. Metrics with no
// points inside the window are omitted.
func (c *Collector) Summary(window time.Duration) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-window)
	snap := Snapshot{
		TakenAt: now,
		Window:  window,
		Metrics: make(map[string]Summary, len(c.metrics)),
	}
	sums := make(map[string]float64)
	for name, s := range c.metrics {
		pts := s.windowed(cutoff)
		if len(pts) == 0 {
			continue
		}
		snap.Metrics[name] = summarize(s.kind, pts)
		if s.kind == KindCounter {
			sums[name] = *snap.Metrics[name].Sum
		}
	}
	for key, spec := range c.rates {
		den, ok := sums[spec.Denominator]
		if !ok || den == 0 {
			continue
		}
		if snap.Rates == nil {
			snap.Rates = make(map[string]float64)
		}
		snap.Rates[key] = sums[spec.Numerator] / den * 100
	}
	return snap
}

func summarize(kind Kind, pts []Point) Summary {
	sm := Summary{Kind: kind, Count: len(pts)}
	switch kind {
	case KindCounter:
		var sum float64
		for _, p := range pts {
			sum += p.Value
		}
		sm.Sum = &sum
	case KindGauge:
		latest := pts[len(pts)-1].Value
		sm.Latest = &latest
	case KindHistogram:
		vals := make([]float64, len(pts))
		var sum float64
		for i, p := range pts {
			vals[i] = p.Value
			sum += p.Value
		}
		sort.Float64s(vals)
		minV, maxV := vals[0], vals[len(vals)-1]
		avg := sum / float64(len(vals))
		p95 := vals[pctIndex(len(vals), 0.95)]
		p99 := vals[pctIndex(len(vals), 0.99)]
		sm.Min, sm.Max, sm.Avg, sm.P95, sm.P99 = &minV, &maxV, &avg, &p95, &p99
	}
	return sm
}

// pctIndex is the 0-based floor(n*q) index, clamped to the last element.
func pctIndex(n int, q float64) int {
	i := int(math.Floor(float64(n) * q))
	if i >= n {
		i = n - 1
	}
	return i
}
