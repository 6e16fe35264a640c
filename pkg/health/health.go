// Package health aggregates the coordinator's operator-facing status:
// enrollment counts by status, the last successful publish, the current
// epoch, and whether the sealed signer currently responds healthy.
package health

import (
	"context"
	"time"

	"github.com/FSM1/cipherbox-coordinator/internal/telemetry"
	"github.com/FSM1/cipherbox-coordinator/pkg/epoch"
	"github.com/FSM1/cipherbox-coordinator/pkg/schedule"
	"github.com/FSM1/cipherbox-coordinator/pkg/signer"
)

// ScheduleStats is the subset of schedule.Store the health service depends on.
type ScheduleStats interface {
	Stats(ctx context.Context) (schedule.Stats, error)
}

// EpochStats is the subset of epoch.Store the health service depends on.
type EpochStats interface {
	Current(ctx context.Context) (*epoch.State, error)
}

// SignerHealth is the subset of signer.Client the health service depends on.
type SignerHealth interface {
	Health(ctx context.Context) (signer.HealthStatus, error)
}

// Report is the payload served at GET /admin/republish-health.
type Report struct {
	Pending       int        `json:"pending"`
	Retrying      int        `json:"retrying"`
	Stale         int        `json:"stale"`
	LastRunAt     *time.Time `json:"last_run_at"`
	CurrentEpoch  *int       `json:"current_epoch"`
	SignerHealthy bool       `json:"signer_healthy"`
}

// Service computes the aggregate health report.
type Service struct {
	schedule ScheduleStats
	epochs   EpochStats
	signer   SignerHealth
}

// NewService creates a health Service.
func NewService(schedule ScheduleStats, epochs EpochStats, signer SignerHealth) *Service {
	return &Service{schedule: schedule, epochs: epochs, signer: signer}
}

// Stats computes {pending, retrying, stale, last_run_at, current_epoch,
// signer_healthy}. A signer transport error is swallowed as signer_healthy=false
// rather than failing the whole report — the health endpoint must stay
// available precisely when the signer is down.
func (s *Service) Stats(ctx context.Context) (Report, error) {
	st, err := s.schedule.Stats(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Pending:   st.Pending,
		Retrying:  st.Retrying,
		Stale:     st.Stale,
		LastRunAt: st.LastRunAt,
	}

	if state, err := s.epochs.Current(ctx); err == nil && state != nil {
		epochCopy := state.CurrentEpoch
		report.CurrentEpoch = &epochCopy
		telemetry.EpochCurrentGauge.Set(float64(state.CurrentEpoch))
	}

	if status, err := s.signer.Health(ctx); err == nil {
		report.SignerHealthy = status.Healthy
	}
	if report.SignerHealthy {
		telemetry.SignerHealthyGauge.Set(1)
	} else {
		telemetry.SignerHealthyGauge.Set(0)
	}

	return report, nil
}
