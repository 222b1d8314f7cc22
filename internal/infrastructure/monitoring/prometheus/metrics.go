package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every series ConceptGuard exports.
type AppMetrics struct {
	// Engine
	EntitiesTotal      CounterVec
	DocumentsTotal     CounterVec
	ExtractionDuration HistogramVec
	RulesLoaded        GaugeVec
	RuleReloadsTotal   CounterVec

	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Infrastructure
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	MessagesTotal          CounterVec
	MessageProcessDuration HistogramVec
}

var (
	DefaultHTTPDurationBuckets       = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultExtractionDurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}
)

// NewAppMetrics registers all series on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.EntitiesTotal = collector.RegisterCounter("entities_total", "Entities by pipeline stage and outcome", "stage", "outcome")
	m.DocumentsTotal = collector.RegisterCounter("documents_total", "Documents processed by status", "status")
	m.ExtractionDuration = collector.RegisterHistogram("extraction_duration_seconds", "Per-document extraction latency", DefaultExtractionDurationBuckets)
	m.RulesLoaded = collector.RegisterGauge("rules_loaded", "Concept rules in the active store")
	m.RuleReloadsTotal = collector.RegisterCounter("rule_reloads_total", "Rule store reload attempts", "result")

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "In-flight HTTP requests")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.MessagesTotal = collector.RegisterCounter("messages_total", "Consumed messages by topic and result", "topic", "result")
	m.MessageProcessDuration = collector.RegisterHistogram("message_process_duration_seconds", "Message handling duration", DefaultHTTPDurationBuckets, "topic")

	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// Engine-facing recorder
// ─────────────────────────────────────────────────────────────────────────────

// ObserveEntities adds n to the entity counter for stage/outcome. Zero is
// ignored so idle stages do not create series.
func (m *AppMetrics) ObserveEntities(stage, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EntitiesTotal.WithLabelValues(stage, outcome).Add(float64(n))
}

// ObserveDocument counts one processed document and its latency.
func (m *AppMetrics) ObserveDocument(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(status).Inc()
	m.ExtractionDuration.WithLabelValues().Observe(d.Seconds())
}

// SetRulesLoaded publishes the size of the active rule store.
func (m *AppMetrics) SetRulesLoaded(n int) {
	if m == nil {
		return
	}
	m.RulesLoaded.WithLabelValues().Set(float64(n))
}

// ObserveReload counts a reload attempt.
func (m *AppMetrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.RuleReloadsTotal.WithLabelValues(result).Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func RecordHTTPRequest(m *AppMetrics, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordCacheAccess(m *AppMetrics, cache string, hit bool) {
	m.ObserveCacheAccess(cache, hit)
}

// ObserveCacheAccess counts a hit or miss on the named cache.
func (m *AppMetrics) ObserveCacheAccess(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

func RecordMessage(m *AppMetrics, topic string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ObserveMessage(topic, result, duration)
}

// ObserveMessage counts one consumed message. result is ok, error, retried
// or dead_lettered.
func (m *AppMetrics) ObserveMessage(topic, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(topic, result).Inc()
	if d > 0 {
		m.MessageProcessDuration.WithLabelValues(topic).Observe(d.Seconds())
	}
}
