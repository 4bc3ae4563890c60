package ring

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	observationCap    = 100
	observationWindow = 5 * time.Minute
)

// SizeObservation is one reported network-size sample (§4.4).
type SizeObservation struct {
	Estimate     int
	Confidence   float64
	TimestampMs  int64
	Source       string
}

// Estimate is the combined result of GetNetworkSizeEstimate.
type Estimate struct {
	Size         int
	Confidence   float64
	SourceCount  int
}

// Estimator maintains the weighted network-size/partition estimator of
// §4.4: a ring buffer of observations plus a self-estimate derived from
// the spacing of self's S/P set.
type Estimator struct {
	mu     sync.Mutex
	clock  clock.Clock
	buf    [observationCap]SizeObservation
	filled [observationCap]bool
	cursor int

	selfEstimateFn func() (int, float64)
}

// NewEstimator builds an estimator; selfEstimateFn supplies the
// self-estimate term, typically derived from S/P spacing in the service
// layer (internal/ring does not know about the service's S/P set size).
func NewEstimator(clk clock.Clock, selfEstimateFn func() (int, float64)) *Estimator {
	if clk == nil {
		clk = clock.New()
	}
	return &Estimator{clock: clk, selfEstimateFn: selfEstimateFn}
}

// ReportNetworkSize appends one external observation.
func (e *Estimator) ReportNetworkSize(estimate int, confidence float64, source string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf[e.cursor] = SizeObservation{
		Estimate:    estimate,
		Confidence:  confidence,
		TimestampMs: e.clock.Now().UnixMilli(),
		Source:      source,
	}
	e.filled[e.cursor] = true
	e.cursor = (e.cursor + 1) % observationCap
}

// liveObservations returns the observations younger than observationWindow,
// aged out lazily on read.
func (e *Estimator) liveObservations(nowMs int64) []SizeObservation {
	out := make([]SizeObservation, 0, observationCap)
	for i, f := range e.filled {
		if !f {
			continue
		}
		if nowMs-e.buf[i].TimestampMs > observationWindow.Milliseconds() {
			continue
		}
		out = append(out, e.buf[i])
	}
	return out
}

// GetNetworkSizeEstimate combines the self-estimate with all external
// observations, weighted by exp(-age/(window/3))*confidence (§4.4).
func (e *Estimator) GetNetworkSizeEstimate() Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	nowMs := e.clock.Now().UnixMilli()
	obs := e.liveObservations(nowMs)

	var weightedSum, weightTotal float64
	sources := 0

	if e.selfEstimateFn != nil {
		if n, conf := e.selfEstimateFn(); n > 0 && conf > 0 {
			weightedSum += float64(n) * conf
			weightTotal += conf
			sources++
		}
	}

	tau := float64(observationWindow.Milliseconds()) / 3
	for _, o := range obs {
		age := float64(nowMs - o.TimestampMs)
		w := math.Exp(-age/tau) * o.Confidence
		weightedSum += float64(o.Estimate) * w
		weightTotal += w
		sources++
	}

	if weightTotal <= 0 {
		return Estimate{Size: 0, Confidence: 0, SourceCount: sources}
	}
	mean := weightedSum / weightTotal
	conf := weightTotal / float64(sources)
	if conf > 1 {
		conf = 1
	}
	return Estimate{Size: int(math.Round(mean)), Confidence: conf, SourceCount: sources}
}

// GetNetworkChurn compares the mean estimate of the older and newer halves
// of the observation window, returning the slope in peers per minute.
func (e *Estimator) GetNetworkChurn() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	nowMs := e.clock.Now().UnixMilli()
	obs := e.liveObservations(nowMs)
	if len(obs) < 2 {
		return 0
	}
	// Order by age: oldest first.
	sorted := make([]SizeObservation, len(obs))
	copy(sorted, obs)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].TimestampMs < sorted[j-1].TimestampMs; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	mid := len(sorted) / 2
	older := sorted[:mid]
	newer := sorted[mid:]
	if len(older) == 0 || len(newer) == 0 {
		return 0
	}
	oldMean := meanEstimate(older)
	newMean := meanEstimate(newer)
	oldTime := meanTimestamp(older)
	newTime := meanTimestamp(newer)
	deltaMinutes := (newTime - oldTime) / 60000
	if deltaMinutes <= 0 {
		return 0
	}
	return (newMean - oldMean) / deltaMinutes
}

func meanEstimate(obs []SizeObservation) float64 {
	var sum float64
	for _, o := range obs {
		sum += float64(o.Estimate)
	}
	return sum / float64(len(obs))
}

func meanTimestamp(obs []SizeObservation) float64 {
	var sum float64
	for _, o := range obs {
		sum += float64(o.TimestampMs)
	}
	return sum / float64(len(obs))
}

// DetectPartition implements §4.4's partition heuristic.
func (e *Estimator) DetectPartition() bool {
	e.mu.Lock()
	nowMs := e.clock.Now().UnixMilli()
	obs := e.liveObservations(nowMs)
	e.mu.Unlock()

	if len(obs) < 10 {
		return false
	}

	current := e.GetNetworkSizeEstimate()

	var older []SizeObservation
	for _, o := range obs {
		if nowMs-o.TimestampMs > 30_000 {
			older = append(older, o)
		}
	}
	if len(older) > 5 {
		older = older[len(older)-5:]
	}
	if len(older) > 0 {
		mean := meanEstimate(older)
		if mean > 0 && current.Confidence >= 0.3 && float64(current.Size) < mean/2 {
			return true
		}
	}

	churn := e.GetNetworkChurn()
	if current.Size > 0 && math.Abs(churn) > 0.1*float64(current.Size) {
		return true
	}
	return false
}
