package ring

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestGetNetworkSizeEstimateCombinesSources(t *testing.T) {
	clk := clock.NewMock()
	e := NewEstimator(clk, func() (int, float64) { return 10, 0.5 })

	e.ReportNetworkSize(100, 0.8, "peer-a")
	e.ReportNetworkSize(120, 0.8, "peer-b")

	est := e.GetNetworkSizeEstimate()
	assert.Greater(t, est.Size, 0)
	assert.Equal(t, 3, est.SourceCount)
}

func TestFewerThanTenObservationsNeverPartitioned(t *testing.T) {
	clk := clock.NewMock()
	e := NewEstimator(clk, nil)
	for i := 0; i < 9; i++ {
		e.ReportNetworkSize(100, 0.9, "x")
	}
	assert.False(t, e.DetectPartition())
}

func TestObservationsAgeOut(t *testing.T) {
	clk := clock.NewMock()
	e := NewEstimator(clk, nil)
	e.ReportNetworkSize(100, 0.9, "x")

	clk.Add(6 * time.Minute)
	est := e.GetNetworkSizeEstimate()
	assert.Equal(t, 0, est.SourceCount)
}

func TestDetectPartitionOnSharpDrop(t *testing.T) {
	clk := clock.NewMock()
	e := NewEstimator(clk, nil)
	for i := 0; i < 10; i++ {
		e.ReportNetworkSize(200, 0.9, "x")
		clk.Add(1 * time.Second)
	}
	clk.Add(31 * time.Second)
	for i := 0; i < 5; i++ {
		e.ReportNetworkSize(50, 0.9, "x")
		clk.Add(1 * time.Second)
	}
	assert.True(t, e.DetectPartition())
}
