// SPDX-License-Identifier: Apache-2.0

package engine

import "time"

const (
	// deltaFlushChars is the coalescing threshold: buffered model output is
	// flushed once it reaches this many bytes.
	deltaFlushChars = 256
	// deltaFlushInterval bounds the staleness of buffered output.
	deltaFlushInterval = 200 * time.Millisecond
	// deltaRoleCap bounds the pending buffer to its most recent bytes:
	// pathological single-role bursts evict the oldest text, never the
	// newest.
	deltaRoleCap = 50_000
)

// deltaBuffer coalesces token-level streaming output into chunked flushes so
// one model token does not cost one persisted event. Flushing is driven by
// size and elapsed time; the pending buffer keeps only the last deltaRoleCap
// bytes. Not safe for concurrent use; each run owns its buffer.
type deltaBuffer struct {
	flush func(role, text string)
	now   func() time.Time

	role      string
	buf       []byte
	lastFlush time.Time
}

func newDeltaBuffer(flush func(role, text string)) *deltaBuffer {
	return &deltaBuffer{flush: flush, now: time.Now}
}

// Add appends one streamed delta. A role change flushes the previous role's
// remainder first so chunks never interleave roles.
func (b *deltaBuffer) Add(role, delta string) {
	if delta == "" {
		return
	}
	if role != b.role {
		b.flushPending()
		b.role = role
		b.lastFlush = b.now()
	}

	b.buf = append(b.buf, delta...)
	if len(b.buf) > deltaRoleCap {
		b.buf = b.buf[len(b.buf)-deltaRoleCap:]
	}

	if len(b.buf) >= deltaFlushChars || b.now().Sub(b.lastFlush) >= deltaFlushInterval {
		b.flushPending()
	}
}

// FlushAll drains whatever is pending, typically at a node boundary.
func (b *deltaBuffer) FlushAll() {
	b.flushPending()
}

func (b *deltaBuffer) flushPending() {
	if len(b.buf) == 0 {
		b.lastFlush = b.now()
		return
	}
	text := string(b.buf)
	b.buf = b.buf[:0]
	b.lastFlush = b.now()
	b.flush(b.role, text)
}
