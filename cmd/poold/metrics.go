// metrics.go - In-process metrics for the pool daemon
package main

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"veilpool/internal/pool"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// Metric represents a single metric sample
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector aggregates counters, gauges and histograms in memory.
// The /metrics endpoint serves its summary; nothing is exported elsewhere.
type MetricsCollector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.counters[key]++
	mc.updateMetric(name, Counter, float64(mc.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.gauges[key] = value
	mc.updateMetric(name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram, keeping the last 1000
// samples per series.
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	samples := append(mc.histograms[key], value)
	if len(samples) > 1000 {
		samples = samples[len(samples)-1000:]
	}
	mc.histograms[key] = samples
	mc.updateMetric(name, Histogram, value, labels)
}

// GetMetric retrieves the latest sample for a metric
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) *Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics[makeKey(name, labels)]
}

// GetMetricsSummary returns all series with histogram aggregates
func (mc *MetricsCollector) GetMetricsSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	counters := make(map[string]int64, len(mc.counters))
	for key, value := range mc.counters {
		counters[key] = value
	}

	gauges := make(map[string]float64, len(mc.gauges))
	for key, value := range mc.gauges {
		gauges[key] = value
	}

	histograms := make(map[string]map[string]float64, len(mc.histograms))
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		min, max, sum := values[0], values[0], 0.0
		for _, v := range values {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			sum += v
		}
		histograms[key] = map[string]float64{
			"count": float64(len(values)),
			"min":   min,
			"max":   max,
			"sum":   sum,
			"avg":   sum / float64(len(values)),
		}
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
	mc.counters = make(map[string]int64)
	mc.gauges = make(map[string]float64)
	mc.histograms = make(map[string][]float64)
}

// makeKey builds a deterministic series key from name and sorted labels
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += fmt.Sprintf("_%s_%s", k, labels[k])
	}
	return key
}

func (mc *MetricsCollector) updateMetric(name string, metricType MetricType, value float64, labels map[string]string) {
	mc.metrics[makeKey(name, labels)] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricDepositCount    = "deposit_count"
	MetricWithdrawCount   = "withdraw_count"
	MetricRejectionCount  = "rejection_count"
	MetricRequestCount    = "request_count"
	MetricWithdrawTime    = "withdraw_time"
	MetricRequestTime     = "request_time"
	MetricTreeLeaves      = "tree_leaves"
	MetricVaultBalance    = "vault_balance"
	MetricNullifierCount  = "nullifier_count"
	MetricRootHistoryLen  = "root_history_len"
	MetricUptimeSeconds   = "uptime_seconds"
	MetricRateLimitedReqs = "rate_limited_requests"
)

// Convenience methods for the pool's common events

func (mc *MetricsCollector) RecordDeposit() {
	mc.IncrementCounter(MetricDepositCount, nil)
}

// RecordWithdrawal counts a settled withdrawal; duration covers the whole
// gate pipeline including proof verification.
func (mc *MetricsCollector) RecordWithdrawal(duration time.Duration) {
	mc.IncrementCounter(MetricWithdrawCount, nil)
	mc.RecordHistogram(MetricWithdrawTime, duration.Seconds(), nil)
}

// RecordRejection counts a refused operation by taxonomy code.
func (mc *MetricsCollector) RecordRejection(code string) {
	mc.IncrementCounter(MetricRejectionCount, map[string]string{"code": code})
}

// RecordRequest times one HTTP request by route and status.
func (mc *MetricsCollector) RecordRequest(route string, status int, duration time.Duration) {
	mc.IncrementCounter(MetricRequestCount, map[string]string{
		"route":  route,
		"status": strconv.Itoa(status),
	})
	mc.RecordHistogram(MetricRequestTime, duration.Seconds(), map[string]string{"route": route})
}

func (mc *MetricsCollector) RecordRateLimited(route string) {
	mc.IncrementCounter(MetricRateLimitedReqs, map[string]string{"route": route})
}

// UpdatePoolGauges refreshes the state-derived gauges from a status snapshot.
func (mc *MetricsCollector) UpdatePoolGauges(st pool.Status, nullifiers int, uptime time.Duration) {
	mc.SetGauge(MetricTreeLeaves, float64(st.NextIndex), nil)
	mc.SetGauge(MetricVaultBalance, float64(st.VaultBalance), nil)
	mc.SetGauge(MetricNullifierCount, float64(nullifiers), nil)
	mc.SetGauge(MetricRootHistoryLen, float64(st.HistoryLen), nil)
	mc.SetGauge(MetricUptimeSeconds, uptime.Seconds(), nil)
}
