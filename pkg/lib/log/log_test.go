package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerWritesComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Logger("ring").Info("hello", "n", 1)

	out := buf.String()
	assert.Contains(t, out, "component=ring")
	assert.Contains(t, out, "hello")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "abcdefgh", TruncateID("abcdefghij", 8))
}
