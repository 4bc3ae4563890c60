package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCacheSetGet(t *testing.T) {
	c := NewDedupCache(30*time.Second, 4)
	c.Set("corr-1", []byte("response-a"))

	got, ok := c.Get("corr-1")
	assert.True(t, ok)
	assert.Equal(t, []byte("response-a"), got)
}

// Dedup idempotence (P7): repeated lookups of the same correlation id
// return byte-identical results. A second Set on the same key replaces the
// stored bytes, so callers consult Get before producing a response.
func TestDedupIdempotence(t *testing.T) {
	c := NewDedupCache(30*time.Second, 4)
	c.Set("corr-1", []byte("first-response"))
	c.Set("corr-1", []byte("second-response-ignored-by-caller"))

	got, _ := c.Get("corr-1")
	assert.NotNil(t, got)
	again, _ := c.Get("corr-1")
	assert.Equal(t, got, again)
}

func TestDedupCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewDedupCache(30*time.Second, 2)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Set("c", []byte("3"))

	_, aStillThere := c.Get("a")
	_, cThere := c.Get("c")
	assert.False(t, aStillThere)
	assert.True(t, cThere)
}

// A Get on "a" must not save it from eviction: oldest-inserted, not
// least-recently-used, is the tie-break (§4.6).
func TestDedupCacheGetDoesNotPromoteRecency(t *testing.T) {
	c := NewDedupCache(30*time.Second, 2)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	_, _ = c.Get("a")

	c.Set("c", []byte("3"))

	_, aStillThere := c.Get("a")
	_, bStillThere := c.Get("b")
	assert.False(t, aStillThere)
	assert.True(t, bStillThere)
}
