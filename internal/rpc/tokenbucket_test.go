package rpc

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketDrainsAndRefills(t *testing.T) {
	clk := clock.NewMock()
	b := NewTokenBucket(clk, 2, 1) // 2 tokens, refill 1/s

	assert.True(t, b.TryTake())
	assert.True(t, b.TryTake())
	assert.False(t, b.TryTake())

	clk.Add(1 * time.Second)
	assert.True(t, b.TryTake())
}

func TestRetryAfterMsPositiveWhenEmpty(t *testing.T) {
	clk := clock.NewMock()
	b := NewTokenBucket(clk, 1, 1)
	assert.True(t, b.TryTake())
	assert.Greater(t, b.RetryAfterMs(), int64(0))
}
