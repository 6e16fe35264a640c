// Package admin exposes the coordinator's operator surface: republish
// health, reactivating stale enrollments, forcing a scheduler pass, and
// deprecating the previous key epoch once its grace period has lapsed.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/FSM1/cipherbox-coordinator/internal/httpserver"
	"github.com/FSM1/cipherbox-coordinator/pkg/epoch"
	"github.com/FSM1/cipherbox-coordinator/pkg/health"
)

// ScheduleReactivator is the subset of schedule.Store the handler depends on.
type ScheduleReactivator interface {
	ReactivateStale(ctx context.Context) (int, error)
}

// EpochDeprecator is the subset of epoch.Store the handler depends on.
type EpochDeprecator interface {
	DeprecatePrevious(ctx context.Context) error
}

// EpochRotator triggers a signer-driven epoch rotation (falling back to a
// bootstrap if the singleton doesn't exist yet) and lists the rotation log.
// The admin operator invokes Rotate once they know the signer has moved to
// a new epoch.
type EpochRotator interface {
	Rotate(ctx context.Context, reason string) error
	History(ctx context.Context, limit int) ([]*epoch.RotationLogEntry, error)
}

// SchedulerRunner is the subset of scheduler.Engine the handler depends on.
type SchedulerRunner interface {
	RunOnce(ctx context.Context) (processed, succeeded, failed int, err error)
}

// HealthReporter is the subset of health.Service the handler depends on.
type HealthReporter interface {
	Stats(ctx context.Context) (health.Report, error)
}

// Handler serves the /admin sub-router, mounted by the caller behind a
// bearer-token gate — this package has no authentication of its own.
type Handler struct {
	health    HealthReporter
	schedule  ScheduleReactivator
	epochs    EpochDeprecator
	rotator   EpochRotator
	scheduler SchedulerRunner
	logger    *slog.Logger
}

// NewHandler creates an admin Handler.
func NewHandler(health HealthReporter, schedule ScheduleReactivator, epochs EpochDeprecator, rotator EpochRotator, scheduler SchedulerRunner, logger *slog.Logger) *Handler {
	return &Handler{health: health, schedule: schedule, epochs: epochs, rotator: rotator, scheduler: scheduler, logger: logger}
}

// Routes returns a chi.Router with the admin operations.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/republish-health", h.handleHealth)
	r.Post("/reactivate-stale", h.handleReactivateStale)
	r.Post("/force-run", h.handleForceRun)
	r.Post("/deprecate-previous-epoch", h.handleDeprecatePreviousEpoch)
	r.Post("/rotate-epoch", h.handleRotateEpoch)
	r.Get("/rotation-history", h.handleRotationHistory)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.health.Stats(r.Context())
	if err != nil {
		h.logger.Error("computing republish health", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compute health report")
		return
	}
	httpserver.Respond(w, http.StatusOK, report)
}

func (h *Handler) handleReactivateStale(w http.ResponseWriter, r *http.Request) {
	n, err := h.schedule.ReactivateStale(r.Context())
	if err != nil {
		h.logger.Error("reactivating stale enrollments", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to reactivate stale enrollments")
		return
	}
	h.logger.Info("admin reactivated stale enrollments", "count", n)
	httpserver.Respond(w, http.StatusOK, map[string]int{"reactivated": n})
}

func (h *Handler) handleForceRun(w http.ResponseWriter, r *http.Request) {
	processed, succeeded, failed, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("admin force-run", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "scheduler run failed")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]int{
		"processed": processed,
		"succeeded": succeeded,
		"failed":    failed,
	})
}

func (h *Handler) handleDeprecatePreviousEpoch(w http.ResponseWriter, r *http.Request) {
	if err := h.epochs.DeprecatePrevious(r.Context()); err != nil {
		h.logger.Error("deprecating previous epoch", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to deprecate previous epoch")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRotateEpoch asks the signer for its currently active epoch and
// rotates (or, on a fresh deployment, bootstraps) the singleton to match.
// reason is an optional query parameter recorded on the rotation_log entry.
func (h *Handler) handleRotateEpoch(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "admin-triggered rotation"
	}

	if err := h.rotator.Rotate(r.Context(), reason); err != nil {
		h.logger.Error("rotating epoch", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to rotate epoch")
		return
	}
	h.logger.Info("admin rotated epoch", "reason", reason)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRotationHistory lists recent rotation_log entries, newest first. The
// optional "limit" query parameter caps how many are returned.
func (h *Handler) handleRotationHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.rotator.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing rotation history", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list rotation history")
		return
	}
	httpserver.Respond(w, http.StatusOK, entries)
}
