package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/minio/sha256-simd"

	"github.com/fret/fret/pkg/types"
)

const (
	// DefaultIdleGap is the idle-gap-as-EOF heuristic of §4.9: a
	// multiplexer that doesn't surface remote-close as io.EOF is worked
	// around by treating a 100ms gap after the first chunk as the end of
	// the message.
	DefaultIdleGap = 100 * time.Millisecond

	// TimestampWindowMs is the validation window of §4.9/P5.
	TimestampWindowMs int64 = 5 * 60 * 1000
)

// ReadAllBounded accumulates chunks from r, aborting with ErrPayloadTooLarge
// the moment the cumulative byte count would exceed maxBytes. An idle gap
// of idleGap after the first chunk is treated as end-of-message (P6).
//
// This generalizes the host's fixed-length-prefix framing (out of scope
// here) to the bounded-but-unframed case where the host only guarantees
// whole-message delivery within some number of chunks.
func ReadAllBounded(ctx context.Context, r io.Reader, maxBytes int, idleGap time.Duration) ([]byte, error) {
	if idleGap <= 0 {
		idleGap = DefaultIdleGap
	}
	type readResult struct {
		n   int
		err error
	}

	buf := make([]byte, 0, 4096)
	resultCh := make(chan readResult)
	chunkCh := make(chan []byte)

	go func() {
		for chunk := range chunkCh {
			n, err := r.Read(chunk)
			resultCh <- readResult{n: n, err: err}
			if err != nil {
				return
			}
		}
	}()
	requestChunk := func() []byte {
		c := make([]byte, 4096)
		chunkCh <- c
		return c
	}
	defer close(chunkCh)

	first := true
	chunk := requestChunk()
	for {
		var timeout <-chan time.Time
		if !first {
			timer := time.NewTimer(idleGap)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			return nil, newError("ReadAllBounded", ctx.Err(), "context canceled")
		case <-timeout:
			return buf, nil
		case res := <-resultCh:
			first = false
			if res.n > 0 {
				if len(buf)+res.n > maxBytes {
					return nil, newError("ReadAllBounded", ErrPayloadTooLarge, "")
				}
				buf = append(buf, chunk[:res.n]...)
			}
			if res.err != nil {
				if res.err == io.EOF {
					return buf, nil
				}
				return nil, newError("ReadAllBounded", res.err, "read failed")
			}
			chunk = requestChunk()
		}
	}
}

// ValidateTimestamp implements §4.9 step 3 / P5: |now - ts| <= window.
func ValidateTimestamp(nowMs, tsMs, windowMs int64) bool {
	diff := nowMs - tsMs
	if diff < 0 {
		diff = -diff
	}
	return diff <= windowMs
}

// ActivityDigest returns the hex-encoded SHA-256 fingerprint of an activity
// payload, carried in RouteAndMaybeAct.Digest so a forwarding or receiving
// peer can cheaply confirm the payload survived a hop unmodified without
// re-hashing it against anything but this probe.
func ActivityDigest(activity []byte) string {
	if len(activity) == 0 {
		return ""
	}
	sum := sha256.Sum256(activity)
	return hex.EncodeToString(sum[:])
}

// VerifyActivityDigest reports whether digest is empty (no probe sent) or
// matches activity's own digest.
func VerifyActivityDigest(activity []byte, digest string) bool {
	if digest == "" {
		return true
	}
	return digest == ActivityDigest(activity)
}

// BusyReply builds the wire-level busy/backpressure reply of §6.
func BusyReply(retryAfterMs int64) types.BusyResponse {
	return types.BusyResponse{V: 1, Busy: true, RetryAfterMs: retryAfterMs}
}

// Decode unmarshals one framed JSON object, wrapping decode errors as
// ErrMalformedMessage.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return newError("Decode", ErrMalformedMessage, err.Error())
	}
	return nil
}

// Encode marshals v to its one-object JSON wire form.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// NowMs returns the current time in milliseconds from clk, the shared
// mockable clock used throughout the service for deterministic tests.
func NowMs(clk clock.Clock) int64 {
	if clk == nil {
		clk = clock.New()
	}
	return clk.Now().UnixMilli()
}
