// Package epoch tracks the signer's key-epoch state machine: the current and
// previous sealing public keys, the rotation grace period, and the
// append-only rotation log.
package epoch

import "time"

// GracePeriod is the window after a rotation during which entries still
// sealed under the previous epoch are honored and lazily re-sealed.
const GracePeriod = 4 * 7 * 24 * time.Hour // 4 weeks

// State is the singleton epoch record.
type State struct {
	CurrentEpoch      int
	CurrentPublicKey  []byte
	PreviousEpoch     *int
	PreviousPublicKey []byte
	GracePeriodEndsAt *time.Time
}

// IsGraceActive reports whether a previous epoch is still honored.
func (s *State) IsGraceActive(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.PreviousEpoch != nil && len(s.PreviousPublicKey) > 0 &&
		s.GracePeriodEndsAt != nil && now.Before(*s.GracePeriodEndsAt)
}

// RotationLogEntry is an append-only record of an epoch transition.
type RotationLogEntry struct {
	ID              int64
	FromEpoch       *int
	ToEpoch         int
	FromPublicKey   []byte
	ToPublicKey     []byte
	Reason          string
	CreatedAt       time.Time
}
