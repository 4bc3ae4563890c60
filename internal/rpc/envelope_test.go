package rpc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Bounded read (P6): within the limit returns the exact concatenation.
func TestReadAllBoundedWithinLimit(t *testing.T) {
	r := bytes.NewReader([]byte("hello world"))
	out, err := ReadAllBounded(context.Background(), r, 1024, 0)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

// Bounded read (P6): exceeding the limit fails with ErrPayloadTooLarge.
func TestReadAllBoundedExceedsLimit(t *testing.T) {
	r := bytes.NewReader(bytes.Repeat([]byte("A"), 1000))
	_, err := ReadAllBounded(context.Background(), r, 256, 0)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestValidateTimestampWindow(t *testing.T) {
	now := int64(1_000_000_000)
	assert.True(t, ValidateTimestamp(now, now-299_999, TimestampWindowMs))
	assert.True(t, ValidateTimestamp(now, now+299_999, TimestampWindowMs))
	assert.False(t, ValidateTimestamp(now, now-300_001, TimestampWindowMs))
	assert.False(t, ValidateTimestamp(now, now+300_001, TimestampWindowMs))
}

func TestBusyReplyShape(t *testing.T) {
	r := BusyReply(500)
	assert.True(t, r.Busy)
	assert.Equal(t, int64(500), r.RetryAfterMs)
}
