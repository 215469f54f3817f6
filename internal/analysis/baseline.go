// Package analysis implements the fixed-weight ensemble scorer that turns
// enriched security events into risk assessments.
package analysis

import (
	"math"
	"sync"
)

// Baseline holds the running mean and standard deviation for one metric
// within a category.
type Baseline struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  uint64  `json:"count"`
}

// BaselineRegistry stores statistical baselines keyed by category and
// metric name. Live scoring reads baselines; the retraining loop folds
// observed samples back in.
type BaselineRegistry struct {
	mu        sync.RWMutex
	baselines map[string]map[string]*Baseline
	samples   map[string]map[string][]float64
}

// NewBaselineRegistry creates a registry seeded with the default
// operational baselines.
func NewBaselineRegistry() *BaselineRegistry {
	r := &BaselineRegistry{
		baselines: make(map[string]map[string]*Baseline),
		samples:   make(map[string]map[string][]float64),
	}
	r.Set("network_traffic", "bandwidth", 1024000, 204800)
	r.Set("network_traffic", "connection_count", 150, 45)
	r.Set("process_behavior", "creation_rate", 50, 15)
	r.Set("process_behavior", "memory_usage", 512, 128)
	return r
}

// Set installs a baseline for a category/metric pair.
func (r *BaselineRegistry) Set(category, metric string, mean, stdDev float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baselines[category] == nil {
		r.baselines[category] = make(map[string]*Baseline)
	}
	r.baselines[category][metric] = &Baseline{Mean: mean, StdDev: stdDev}
}

// Get returns the baseline for a category/metric pair.
func (r *BaselineRegistry) Get(category, metric string) (Baseline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metrics, ok := r.baselines[category]
	if !ok {
		return Baseline{}, false
	}
	b, ok := metrics[metric]
	if !ok {
		return Baseline{}, false
	}
	return *b, true
}

// ZScore returns the number of standard deviations the value sits from
// the baseline mean. A missing baseline or zero deviation scores 0.
func (r *BaselineRegistry) ZScore(category, metric string, value float64) float64 {
	b, ok := r.Get(category, metric)
	if !ok || b.StdDev == 0 {
		return 0
	}
	return math.Abs(value-b.Mean) / b.StdDev
}

// Observe records a sample for the next retraining pass.
func (r *BaselineRegistry) Observe(category, metric string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples[category] == nil {
		r.samples[category] = make(map[string][]float64)
	}
	// Cap retained samples per metric so an event storm cannot grow
	// memory without bound.
	buf := r.samples[category][metric]
	if len(buf) >= 10000 {
		buf = buf[1:]
	}
	r.samples[category][metric] = append(buf, value)
}

// Retrain folds accumulated samples into each baseline with an
// exponential update, then clears the sample buffers. Returns the number
// of baselines updated.
func (r *BaselineRegistry) Retrain(alpha float64) int {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for category, metrics := range r.samples {
		for metric, values := range metrics {
			if len(values) == 0 {
				continue
			}
			mean, stdDev := meanStdDev(values)

			b := r.baselines[category][metric]
			if b == nil {
				if r.baselines[category] == nil {
					r.baselines[category] = make(map[string]*Baseline)
				}
				b = &Baseline{Mean: mean, StdDev: stdDev}
				r.baselines[category][metric] = b
			} else {
				b.Mean = (1-alpha)*b.Mean + alpha*mean
				b.StdDev = (1-alpha)*b.StdDev + alpha*stdDev
			}
			b.Count += uint64(len(values))
			updated++
		}
		r.samples[category] = make(map[string][]float64)
	}
	return updated
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
