// Package enrollment is the coordinator's internal entrypoint for
// registering or refreshing an enrollment, called in-process by the
// collaborator that owns the user-facing publish path.
package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/FSM1/cipherbox-coordinator/pkg/schedule"
)

// Store is the subset of schedule.Store the service depends on.
type Store interface {
	UpsertEnrollment(ctx context.Context, p schedule.UpsertParams) (*schedule.Enrollment, error)
}

// Service is the enrollment API surface described in the coordinator's
// external interfaces: a single upsert entrypoint with a fixed due interval.
type Service struct {
	store           Store
	publishInterval time.Duration
}

// NewService creates an enrollment Service. publishInterval is the interval
// the coordinator schedules the entry's next due time at — spec default 6h.
func NewService(store Store, publishInterval time.Duration) *Service {
	return &Service{store: store, publishInterval: publishInterval}
}

// Enroll upserts the (owner, ipns_name) row, resetting status/failures and
// scheduling next_due_at = now + publishInterval.
func (s *Service) Enroll(ctx context.Context, owner, ipnsName string, sealedKey []byte, keyEpoch int, latestCID, sequenceNumber string) (*schedule.Enrollment, error) {
	e, err := s.store.UpsertEnrollment(ctx, schedule.UpsertParams{
		Owner:          owner,
		IPNSName:       ipnsName,
		SealedKey:      sealedKey,
		KeyEpoch:       keyEpoch,
		LatestCID:      latestCID,
		SequenceNumber: sequenceNumber,
		NextDueIn:      s.publishInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("enrolling %s/%s: %w", owner, ipnsName, err)
	}
	return e, nil
}
