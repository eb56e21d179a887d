// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	echoed := rec.Header().Get(headerRequestID)
	if echoed == "" {
		t.Fatal("expected generated request id header")
	}
	if _, err := uuid.Parse(echoed); err != nil {
		t.Errorf("generated request id is not a UUID: %q", echoed)
	}
	if seen != echoed {
		t.Errorf("context id %q does not match header %q", seen, echoed)
	}
}

func TestRequestIDMiddlewarePreservesCallerID(t *testing.T) {
	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set(headerRequestID, "caller-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(headerRequestID); got != "caller-supplied" {
		t.Errorf("expected caller id echoed, got %q", got)
	}
}

func TestStatusRecorderCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusConflict)
	sr.WriteHeader(http.StatusTeapot)
	if sr.status != http.StatusConflict {
		t.Errorf("expected first status to win, got %d", sr.status)
	}

	implicit := httptest.NewRecorder()
	sr = &statusRecorder{ResponseWriter: implicit, status: http.StatusOK}
	if _, err := sr.Write([]byte("ok")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sr.status != http.StatusOK {
		t.Errorf("expected implicit 200, got %d", sr.status)
	}
}
