// Package schedule stores and advances per-enrollment republish state: the
// sealed key, the signer epoch it was sealed under, the latest CID and
// sequence number, and the due/retry bookkeeping the batch scheduler drives.
package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an enrollment.
type Status string

const (
	StatusActive   Status = "active"
	StatusRetrying Status = "retrying"
	StatusStale    Status = "stale"
)

// Tuning constants shared by the store and the batch scheduler. These mirror
// the defaults in internal/config but are also used as fallback literals by
// pure helpers (backoff) that don't carry a config reference.
const (
	MaxFailures  = 10
	BaseBackoff  = 30 * time.Second
	MaxBackoff   = 1 * time.Hour
	DueHardCap   = 500
	StaleRequeue = 365 * 24 * time.Hour
)

// Enrollment is one (owner, ipns_name) pair under coordinator management.
type Enrollment struct {
	ID                  uuid.UUID
	Owner               string
	IPNSName            string
	SealedKey           []byte
	KeyEpoch            int
	LatestCID           string
	SequenceNumber      string // decimal string, 64-bit unsigned
	NextDueAt           time.Time
	LastPublishedAt     *time.Time
	ConsecutiveFailures int
	Status              Status
	LastError           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Backoff computes the retry delay after n consecutive failures:
// min(BASE_BACKOFF * 2^n, MAX_BACKOFF).
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	// Cap the shift to avoid overflowing time.Duration for large failure counts;
	// by then the value is already far past max.
	if n > 62 {
		return max
	}
	d := base << n
	if d <= 0 || d > max {
		return max
	}
	return d
}

// TruncateError truncates an error message to at most n bytes, matching the
// store's last_error column constraint.
func TruncateError(msg string, n int) string {
	if len(msg) <= n {
		return msg
	}
	return msg[:n]
}
