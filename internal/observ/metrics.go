package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const namespace = "pmc"

// registry lazily creates prometheus vectors keyed by metric name. The label
// set of a metric is fixed by its first use; later calls map onto it.
type registry struct {
	mu        sync.Mutex
	prom      *prometheus.Registry
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	hist      map[string]*prometheus.HistogramVec
	labelKeys map[string][]string
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		prom:      prometheus.NewRegistry(),
		counters:  map[string]*prometheus.CounterVec{},
		gauges:    map[string]*prometheus.GaugeVec{},
		hist:      map[string]*prometheus.HistogramVec{},
		labelKeys: map[string][]string{},
	}
}

// ResetForTest drops every registered metric
func ResetForTest() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	fresh := newRegistry()
	reg.prom = fresh.prom
	reg.counters = fresh.counters
	reg.gauges = fresh.gauges
	reg.hist = fresh.hist
	reg.labelKeys = fresh.labelKeys
}

func sortedKeys(lbl map[string]string) []string {
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keysFor returns the label schema for name, fixing it on first use
func (r *registry) keysFor(name string, labels map[string]string) []string {
	if keys, ok := r.labelKeys[name]; ok {
		return keys
	}
	keys := sortedKeys(labels)
	r.labelKeys[name] = keys
	return keys
}

func project(keys []string, labels map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(keys))
	for _, k := range keys {
		out[k] = labels[k]
	}
	return out
}

func (r *registry) counter(name string, labels map[string]string) prometheus.Counter {
	keys := r.keysFor(name, labels)
	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: name}, keys)
		r.prom.MustRegister(vec)
		r.counters[name] = vec
	}
	return vec.With(project(keys, labels))
}

func (r *registry) gauge(name string, labels map[string]string) prometheus.Gauge {
	keys := r.keysFor(name, labels)
	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: name}, keys)
		r.prom.MustRegister(vec)
		r.gauges[name] = vec
	}
	return vec.With(project(keys, labels))
}

func (r *registry) histogram(name string, labels map[string]string) prometheus.Observer {
	keys := r.keysFor(name, labels)
	vec, ok := r.hist[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.DefBuckets,
		}, keys)
		r.prom.MustRegister(vec)
		r.hist[name] = vec
	}
	return vec.With(project(keys, labels))
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	if value < 0 {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counter(name, labels).Add(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.gauge(name, labels).Set(value)
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.histogram(name, labels).Observe(value)
}

// RecordDuration records a duration in seconds under name+"_seconds"
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_seconds", duration.Seconds(), labels)
}

// CounterValue reads back a counter; zero when it was never incremented
func CounterValue(name string, labels map[string]string) float64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.counters[name]; !ok {
		return 0
	}
	return testutil.ToFloat64(reg.counter(name, labels))
}

// GaugeValue reads back a gauge; zero when it was never set
func GaugeValue(name string, labels map[string]string) float64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.gauges[name]; !ok {
		return 0
	}
	return testutil.ToFloat64(reg.gauge(name, labels))
}

// Handler exposes the registry in Prometheus text format
func Handler() http.Handler {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return promhttp.HandlerFor(reg.prom, promhttp.HandlerOpts{})
}

// HealthStatus is the payload of the health endpoint
type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Details   map[string]any `json:"details,omitempty"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// Health builds a health payload; detail providers may degrade the status
func Health(details map[string]any, degraded bool) HealthStatus {
	status := "healthy"
	if degraded {
		status = "degraded"
	}
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Version:   version,
		Details:   details,
	}
}

// HealthHandler serves Health with 200 for healthy and 503 otherwise
func HealthHandler(check func() (map[string]any, bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var details map[string]any
		degraded := false
		if check != nil {
			details, degraded = check()
		}
		health := Health(details, degraded)
		w.Header().Set("Content-Type", "application/json")
		if degraded {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
