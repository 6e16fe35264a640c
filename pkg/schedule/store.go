package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict is returned when an upsert hits a unique-constraint violation
// (StoreConflict in the error taxonomy).
var ErrConflict = errors.New("schedule: owner/ipns_name conflict")

// ErrNotFound is returned when an operation targets a row that doesn't exist.
var ErrNotFound = errors.New("schedule: enrollment not found")

const enrollmentColumns = `id, owner, ipns_name, sealed_key, key_epoch, latest_cid,
	sequence_number, next_due_at, last_published_at, consecutive_failures,
	status, last_error, created_at, updated_at`

// Store provides durable enrollment state backed by Postgres.
type Store struct {
	pool *pgxpool.Pool

	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxFailures int
}

// Option configures a Store away from its spec defaults.
type Option func(*Store)

// WithBackoff overrides the base/max backoff used by record_failure.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Store) {
		s.baseBackoff = base
		s.maxBackoff = max
	}
}

// WithMaxFailures overrides the consecutive-failure threshold for staleness.
func WithMaxFailures(n int) Option {
	return func(s *Store) {
		s.maxFailures = n
	}
}

// NewStore creates an enrollment Store backed by the given pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		baseBackoff: BaseBackoff,
		maxBackoff:  MaxBackoff,
		maxFailures: MaxFailures,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scanEnrollment(row pgx.Row) (*Enrollment, error) {
	var e Enrollment
	err := row.Scan(
		&e.ID, &e.Owner, &e.IPNSName, &e.SealedKey, &e.KeyEpoch, &e.LatestCID,
		&e.SequenceNumber, &e.NextDueAt, &e.LastPublishedAt, &e.ConsecutiveFailures,
		&e.Status, &e.LastError, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning enrollment: %w", err)
	}
	return &e, nil
}

// Due returns enrollments with status active or retrying whose next_due_at
// has passed, ordered oldest-due-first, capped at limit (hard cap 500).
// FOR UPDATE SKIP LOCKED skips rows another transaction holds locked at that
// moment. The query runs outside an explicit transaction, so its row locks
// end with the query; they do not keep the returned rows claimed while the
// caller processes them.
func (s *Store) Due(ctx context.Context, limit int) ([]*Enrollment, error) {
	if limit <= 0 || limit > DueHardCap {
		limit = DueHardCap
	}

	query := `SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status IN ('active', 'retrying') AND next_due_at <= now()
		ORDER BY next_due_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying due enrollments: %w", err)
	}
	defer rows.Close()

	var out []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due enrollments: %w", err)
	}
	return out, nil
}

// UpsertParams holds the fields accepted by UpsertEnrollment and Enroll.
type UpsertParams struct {
	Owner          string
	IPNSName       string
	SealedKey      []byte
	KeyEpoch       int
	LatestCID      string
	SequenceNumber string
	NextDueIn      time.Duration
}

// UpsertEnrollment creates or overwrites the (owner, ipns_name) row, resetting
// it to status=active with a fresh due time.
func (s *Store) UpsertEnrollment(ctx context.Context, p UpsertParams) (*Enrollment, error) {
	query := `INSERT INTO enrollments (
			owner, ipns_name, sealed_key, key_epoch, latest_cid, sequence_number,
			status, consecutive_failures, last_error, next_due_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'active', 0, NULL, now() + $7::interval)
		ON CONFLICT (owner, ipns_name) DO UPDATE SET
			sealed_key = EXCLUDED.sealed_key,
			key_epoch = EXCLUDED.key_epoch,
			latest_cid = EXCLUDED.latest_cid,
			sequence_number = EXCLUDED.sequence_number,
			status = 'active',
			consecutive_failures = 0,
			last_error = NULL,
			next_due_at = now() + $7::interval,
			updated_at = now()
		RETURNING ` + enrollmentColumns

	row := s.pool.QueryRow(ctx, query,
		p.Owner, p.IPNSName, p.SealedKey, p.KeyEpoch, p.LatestCID, p.SequenceNumber,
		p.NextDueIn.String(),
	)

	e, err := scanEnrollment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, err
	}
	return e, nil
}

// RecordSuccessParams holds the fields written by RecordSuccess. Upgrade
// fields are optional: when both are set the epoch/sealed_key rewrite happens
// atomically with the success bookkeeping, per the epoch-upgrade edge case.
type RecordSuccessParams struct {
	ID                uuid.UUID
	NewSequenceNumber string
	UpgradedSealedKey []byte
	UpgradedKeyEpoch  *int
	PublishInterval   time.Duration
}

// RecordSuccess marks a successful sign+publish cycle, resetting failure
// bookkeeping and rescheduling the entry for PublishInterval from now.
func (s *Store) RecordSuccess(ctx context.Context, p RecordSuccessParams) error {
	var (
		tag pgconn.CommandTag
		err error
	)

	if p.UpgradedKeyEpoch != nil && p.UpgradedSealedKey != nil {
		tag, err = s.pool.Exec(ctx, `
			UPDATE enrollments SET
				sequence_number = $2,
				last_published_at = now(),
				consecutive_failures = 0,
				status = 'active',
				last_error = NULL,
				next_due_at = now() + $3::interval,
				sealed_key = $4,
				key_epoch = $5,
				updated_at = now()
			WHERE id = $1`,
			p.ID, p.NewSequenceNumber, p.PublishInterval.String(), p.UpgradedSealedKey, *p.UpgradedKeyEpoch,
		)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE enrollments SET
				sequence_number = $2,
				last_published_at = now(),
				consecutive_failures = 0,
				status = 'active',
				last_error = NULL,
				next_due_at = now() + $3::interval,
				updated_at = now()
			WHERE id = $1`,
			p.ID, p.NewSequenceNumber, p.PublishInterval.String(),
		)
	}
	if err != nil {
		return fmt.Errorf("recording success for %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFailure increments the failure counter and reschedules the entry,
// marking it stale once consecutive_failures reaches the configured threshold.
func (s *Store) RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	truncated := TruncateError(errMsg, 500)

	// Read-modify-write: the next failure count determines both the new
	// status and the backoff/stale requeue interval, so it must be computed
	// in Go (pure function, independently testable) before the write.
	var current int
	if err := s.pool.QueryRow(ctx, `SELECT consecutive_failures FROM enrollments WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("reading failure count for %s: %w", id, err)
	}

	next := current + 1
	var status Status
	var nextDueIn time.Duration
	if next >= s.maxFailures {
		status = StatusStale
		nextDueIn = StaleRequeue
	} else {
		status = StatusRetrying
		nextDueIn = Backoff(next, s.baseBackoff, s.maxBackoff)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE enrollments SET
			consecutive_failures = $2,
			last_error = $3,
			status = $4,
			next_due_at = now() + $5::interval,
			updated_at = now()
		WHERE id = $1`,
		id, next, truncated, status, nextDueIn.String(),
	)
	if err != nil {
		return fmt.Errorf("recording failure for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReactivateStale flips every stale row back to active with an immediate due
// time and reset failure counter, returning the number of rows changed.
func (s *Store) ReactivateStale(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrollments SET
			status = 'active',
			consecutive_failures = 0,
			last_error = NULL,
			next_due_at = now(),
			updated_at = now()
		WHERE status = 'stale'`,
	)
	if err != nil {
		return 0, fmt.Errorf("reactivating stale enrollments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats holds the aggregate counts and timestamps served by the health endpoint.
type Stats struct {
	Pending   int
	Retrying  int
	Stale     int
	LastRunAt *time.Time
}

// Stats computes the health-endpoint counters over the enrollments table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'active'),
			count(*) FILTER (WHERE status = 'retrying'),
			count(*) FILTER (WHERE status = 'stale'),
			max(last_published_at) FILTER (WHERE status = 'active')
		FROM enrollments`,
	).Scan(&st.Pending, &st.Retrying, &st.Stale, &st.LastRunAt)
	if err != nil {
		return Stats{}, fmt.Errorf("computing enrollment stats: %w", err)
	}
	return st, nil
}
