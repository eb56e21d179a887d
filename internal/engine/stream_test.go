// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"strings"
	"testing"
	"time"
)

type flushRecorder struct {
	roles []string
	texts []string
}

func (r *flushRecorder) flush(role, text string) {
	r.roles = append(r.roles, role)
	r.texts = append(r.texts, text)
}

func TestDeltaBufferSizeFlush(t *testing.T) {
	rec := &flushRecorder{}
	buf := newDeltaBuffer(rec.flush)

	chunk := strings.Repeat("x", 100)
	buf.Add("engineer", chunk)
	buf.Add("engineer", chunk)
	if len(rec.texts) != 0 {
		t.Fatalf("flushed below threshold: %v", rec.texts)
	}

	buf.Add("engineer", chunk)
	if len(rec.texts) != 1 {
		t.Fatalf("expected one flush at threshold, got %d", len(rec.texts))
	}
	if len(rec.texts[0]) != 300 {
		t.Fatalf("flush length = %d, want 300", len(rec.texts[0]))
	}
	if rec.roles[0] != "engineer" {
		t.Fatalf("flush role = %q", rec.roles[0])
	}
}

func TestDeltaBufferTimeFlush(t *testing.T) {
	rec := &flushRecorder{}
	buf := newDeltaBuffer(rec.flush)

	now := time.Now()
	buf.now = func() time.Time { return now }

	buf.Add("engineer", "hello")
	if len(rec.texts) != 0 {
		t.Fatal("flushed before interval elapsed")
	}

	now = now.Add(deltaFlushInterval + time.Millisecond)
	buf.Add("engineer", " world")
	if len(rec.texts) != 1 {
		t.Fatalf("expected time-based flush, got %d", len(rec.texts))
	}
	if rec.texts[0] != "hello world" {
		t.Fatalf("flush = %q", rec.texts[0])
	}
}

func TestDeltaBufferRoleChangeFlushes(t *testing.T) {
	rec := &flushRecorder{}
	buf := newDeltaBuffer(rec.flush)

	buf.Add("team_lead", "planning")
	buf.Add("engineer", "coding")
	buf.FlushAll()

	if len(rec.texts) != 2 {
		t.Fatalf("expected 2 flushes, got %v", rec.texts)
	}
	if rec.roles[0] != "team_lead" || rec.texts[0] != "planning" {
		t.Fatalf("first flush = %q/%q", rec.roles[0], rec.texts[0])
	}
	if rec.roles[1] != "engineer" || rec.texts[1] != "coding" {
		t.Fatalf("second flush = %q/%q", rec.roles[1], rec.texts[1])
	}
}

func TestDeltaBufferCapKeepsNewestText(t *testing.T) {
	rec := &flushRecorder{}
	buf := newDeltaBuffer(rec.flush)

	// One oversized delta: the oldest bytes are evicted, the newest survive.
	buf.Add("engineer", strings.Repeat("a", deltaRoleCap)+"TAIL")
	if len(rec.texts) != 1 {
		t.Fatalf("expected one flush, got %d", len(rec.texts))
	}
	got := rec.texts[0]
	if len(got) != deltaRoleCap {
		t.Fatalf("emitted %d bytes, want the cap %d", len(got), deltaRoleCap)
	}
	if !strings.HasSuffix(got, "TAIL") {
		t.Fatalf("trailing bytes lost; flush ends with %q", got[len(got)-8:])
	}

	// Text arriving after a flush is never dropped.
	buf.Add("engineer", "more")
	buf.FlushAll()
	if rec.texts[len(rec.texts)-1] != "more" {
		t.Fatalf("post-cap delta lost: %q", rec.texts[len(rec.texts)-1])
	}
}

func TestDeltaBufferEmptyFlushIsNoop(t *testing.T) {
	rec := &flushRecorder{}
	buf := newDeltaBuffer(rec.flush)

	buf.Add("engineer", "")
	buf.FlushAll()
	buf.FlushAll()

	if len(rec.texts) != 0 {
		t.Fatalf("unexpected flushes: %v", rec.texts)
	}
}
