package sim

import "sync"

// Metrics accumulates the counters a simulation run reports on: join/leave
// counts, stabilization cycles, routing attempts/successes/hops, and
// periodic coverage samples.
type Metrics struct {
	mu sync.Mutex

	Joins               int
	Leaves              int
	StabilizationCycles int
	RoutingAttempts     int
	RoutingSuccesses    int
	TotalHops           int
	Commits             int

	CoverageSamples []float64
}

func (m *Metrics) RecordJoin() {
	m.mu.Lock()
	m.Joins++
	m.mu.Unlock()
}

func (m *Metrics) RecordLeave() {
	m.mu.Lock()
	m.Leaves++
	m.mu.Unlock()
}

func (m *Metrics) RecordStabilizationCycle() {
	m.mu.Lock()
	m.StabilizationCycles++
	m.mu.Unlock()
}

// RecordRoute tallies one RouteProbe attempt: its hop count and whether it
// ended in a commit.
func (m *Metrics) RecordRoute(hops int, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RoutingAttempts++
	m.TotalHops += hops
	if success {
		m.RoutingSuccesses++
	}
}

// RecordCommit tallies one activity handler dispatch reaching a commit.
func (m *Metrics) RecordCommit() {
	m.mu.Lock()
	m.Commits++
	m.mu.Unlock()
}

// RecordCoverage appends one coverage sample in [0,1].
func (m *Metrics) RecordCoverage(fraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CoverageSamples = append(m.CoverageSamples, fraction)
}

// SuccessRate returns RoutingSuccesses/RoutingAttempts, or 0 before the
// first attempt.
func (m *Metrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RoutingAttempts == 0 {
		return 0
	}
	return float64(m.RoutingSuccesses) / float64(m.RoutingAttempts)
}

// MeanHops returns the average hop count across every routing attempt.
func (m *Metrics) MeanHops() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RoutingAttempts == 0 {
		return 0
	}
	return float64(m.TotalHops) / float64(m.RoutingAttempts)
}
