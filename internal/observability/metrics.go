package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu                      sync.Mutex
	requestCount            map[string]int64
	errorCount              map[string]int64
	eventsPublished         map[string]int64
	eventsDropped           map[string]int64
	classificationFallbacks map[string]int64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Requests                map[string]int64 `json:"requests"`
	Errors                  map[string]int64 `json:"errors"`
	EventsPublished         map[string]int64 `json:"events_published"`
	EventsDropped           map[string]int64 `json:"events_dropped"`
	ClassificationFallbacks map[string]int64 `json:"classification_fallbacks"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:            make(map[string]int64),
		errorCount:              make(map[string]int64),
		eventsPublished:         make(map[string]int64),
		eventsDropped:           make(map[string]int64),
		classificationFallbacks: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordEventPublished counts a fan-out of kind to delivered observers.
func (m *Metrics) RecordEventPublished(kind string, delivered int) {
	m.add(func() { m.eventsPublished[kind] += int64(delivered) })
}

// RecordEventDropped counts deliveries skipped because an observer buffer was full.
func (m *Metrics) RecordEventDropped(kind string) {
	m.add(func() { m.eventsDropped[kind]++ })
}

// RecordClassificationFallback counts ingestions that fell back to default tags.
func (m *Metrics) RecordClassificationFallback(reason string) {
	m.add(func() { m.classificationFallbacks[reason]++ })
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Requests:                copyCounts(m.requestCount),
		Errors:                  copyCounts(m.errorCount),
		EventsPublished:         copyCounts(m.eventsPublished),
		EventsDropped:           copyCounts(m.eventsDropped),
		ClassificationFallbacks: copyCounts(m.classificationFallbacks),
	}
}

func (m *Metrics) add(fn func()) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
