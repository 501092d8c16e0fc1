// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// latencyBounds are the histogram upper bounds in milliseconds.
var latencyBounds = []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000}

var latencyLabels = []string{"100us", "500us", "1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "1s", "+Inf"}

// LatencyHistogram tracks the time spent serving requests. The last bucket
// counts observations above every bound.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64
	sum     float64 // ms
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBounds)+1),
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Nanoseconds()) / 1e6

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++

	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range latencyBounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(latencyBounds)]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(h.buckets)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	for i, count := range h.buckets {
		stats.Buckets[latencyLabels[i]] = count
	}
	return stats
}

// cumulative returns the bucket counts keyed by upper bound in seconds,
// each including all lower buckets, as Prometheus histograms expect.
func (h *LatencyHistogram) cumulative() (buckets map[float64]uint64, count uint64, sumSeconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buckets = make(map[float64]uint64, len(latencyBounds))
	var running uint64
	for i, bound := range latencyBounds {
		running += uint64(h.buckets[i])
		buckets[bound/1000] = running
	}
	return buckets, uint64(h.count), h.sum / 1000
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics in milliseconds.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// ServerMetrics holds server-side metrics.
type ServerMetrics struct {
	RequestsTotal Counter
	Exceptions    Counter
	FramingErrors Counter
	ActiveConns   Counter
	TotalConns    Counter
	RejectedConns Counter
	Latency       *LatencyHistogram

	funcMetrics sync.Map // FunctionCode -> *FunctionMetrics
}

// FunctionMetrics holds metrics for a specific function code.
type FunctionMetrics struct {
	Requests   Counter
	Exceptions Counter
	Latency    *LatencyHistogram
}

// NewServerMetrics creates an empty ServerMetrics.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForFunction returns metrics for a specific function code.
func (m *ServerMetrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	if val, ok := m.funcMetrics.Load(fc); ok {
		return val.(*FunctionMetrics)
	}

	fm := &FunctionMetrics{
		Latency: NewLatencyHistogram(),
	}
	actual, _ := m.funcMetrics.LoadOrStore(fc, fm)
	return actual.(*FunctionMetrics)
}

// observe records one served request.
func (m *ServerMetrics) observe(fc FunctionCode, exception bool, d time.Duration) {
	fm := m.ForFunction(fc)
	m.RequestsTotal.Add(1)
	fm.Requests.Add(1)
	if exception {
		m.Exceptions.Add(1)
		fm.Exceptions.Add(1)
	}
	m.Latency.Observe(d)
	fm.Latency.Observe(d)
}

// rangeFunctions calls fn for every function code seen so far.
func (m *ServerMetrics) rangeFunctions(fn func(FunctionCode, *FunctionMetrics)) {
	m.funcMetrics.Range(func(key, value interface{}) bool {
		fn(key.(FunctionCode), value.(*FunctionMetrics))
		return true
	})
}

// Collect returns all metrics as a map.
func (m *ServerMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests_total": m.RequestsTotal.Value(),
		"exceptions":     m.Exceptions.Value(),
		"framing_errors": m.FramingErrors.Value(),
		"active_conns":   m.ActiveConns.Value(),
		"total_conns":    m.TotalConns.Value(),
		"rejected_conns": m.RejectedConns.Value(),
		"latency":        m.Latency.Stats(),
	}

	funcStats := make(map[string]interface{})
	m.rangeFunctions(func(fc FunctionCode, fm *FunctionMetrics) {
		funcStats[fc.String()] = map[string]interface{}{
			"requests":   fm.Requests.Value(),
			"exceptions": fm.Exceptions.Value(),
			"latency":    fm.Latency.Stats(),
		}
	})
	if len(funcStats) > 0 {
		result["functions"] = funcStats
	}

	return result
}

// Reset resets all counters except the live connection gauge.
func (m *ServerMetrics) Reset() {
	m.RequestsTotal.Reset()
	m.Exceptions.Reset()
	m.FramingErrors.Reset()
	m.TotalConns.Reset()
	m.RejectedConns.Reset()
	m.Latency.Reset()

	m.rangeFunctions(func(_ FunctionCode, fm *FunctionMetrics) {
		fm.Requests.Reset()
		fm.Exceptions.Reset()
		fm.Latency.Reset()
	})
}
