package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FSM1/cipherbox-coordinator/pkg/epoch"
	"github.com/FSM1/cipherbox-coordinator/pkg/health"
)

type fakeHealth struct {
	report health.Report
	err    error
}

func (f fakeHealth) Stats(ctx context.Context) (health.Report, error) { return f.report, f.err }

type fakeReactivator struct {
	n   int
	err error
}

func (f fakeReactivator) ReactivateStale(ctx context.Context) (int, error) { return f.n, f.err }

type fakeDeprecator struct {
	err error
}

func (f fakeDeprecator) DeprecatePrevious(ctx context.Context) error { return f.err }

type fakeRotator struct {
	rotateErr  error
	rotateArgs struct{ reason string }
	history    []*epoch.RotationLogEntry
	historyErr error
}

func (f *fakeRotator) Rotate(ctx context.Context, reason string) error {
	f.rotateArgs.reason = reason
	return f.rotateErr
}

func (f *fakeRotator) History(ctx context.Context, limit int) ([]*epoch.RotationLogEntry, error) {
	return f.history, f.historyErr
}

type fakeRunner struct {
	processed, succeeded, failed int
	err                           error
}

func (f fakeRunner) RunOnce(ctx context.Context) (int, int, int, error) {
	return f.processed, f.succeeded, f.failed, f.err
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleHealth(t *testing.T) {
	h := NewHandler(fakeHealth{report: health.Report{Pending: 3}}, fakeReactivator{}, fakeDeprecator{}, &fakeRotator{}, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodGet, "/republish-health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleHealthError(t *testing.T) {
	h := NewHandler(fakeHealth{err: errors.New("db down")}, fakeReactivator{}, fakeDeprecator{}, &fakeRotator{}, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodGet, "/republish-health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandleReactivateStale(t *testing.T) {
	h := NewHandler(fakeHealth{}, fakeReactivator{n: 7}, fakeDeprecator{}, &fakeRotator{}, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/reactivate-stale", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleForceRun(t *testing.T) {
	h := NewHandler(fakeHealth{}, fakeReactivator{}, fakeDeprecator{}, &fakeRotator{}, fakeRunner{processed: 2, succeeded: 2}, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/force-run", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleDeprecatePreviousEpoch(t *testing.T) {
	h := NewHandler(fakeHealth{}, fakeReactivator{}, fakeDeprecator{}, &fakeRotator{}, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/deprecate-previous-epoch", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleRotateEpoch(t *testing.T) {
	rotator := &fakeRotator{}
	h := NewHandler(fakeHealth{}, fakeReactivator{}, fakeDeprecator{}, rotator, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/rotate-epoch?reason=key+compromise", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rotator.rotateArgs.reason != "key compromise" {
		t.Errorf("reason = %q, want %q", rotator.rotateArgs.reason, "key compromise")
	}
}

func TestHandleRotateEpochDefaultsReason(t *testing.T) {
	rotator := &fakeRotator{}
	h := NewHandler(fakeHealth{}, fakeReactivator{}, fakeDeprecator{}, rotator, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/rotate-epoch", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rotator.rotateArgs.reason == "" {
		t.Error("expected a default reason when none is supplied")
	}
}

func TestHandleRotateEpochError(t *testing.T) {
	h := NewHandler(fakeHealth{}, fakeReactivator{}, fakeDeprecator{}, &fakeRotator{rotateErr: errors.New("signer unreachable")}, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/rotate-epoch", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandleRotationHistory(t *testing.T) {
	rotator := &fakeRotator{history: []*epoch.RotationLogEntry{{ID: 1, ToEpoch: 2}}}
	h := NewHandler(fakeHealth{}, fakeReactivator{}, fakeDeprecator{}, rotator, fakeRunner{}, silentLogger())

	req := httptest.NewRequest(http.MethodGet, "/rotation-history", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
