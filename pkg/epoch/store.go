package epoch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyInitialized is returned by Initialize when a singleton row exists.
var ErrAlreadyInitialized = errors.New("epoch: state already initialized")

// ErrNotInitialized is returned by Rotate when no singleton row exists yet.
var ErrNotInitialized = errors.New("epoch: state not initialized")

// singletonID is the constant primary key enforcing zero-or-one rows.
const singletonID = 1

// Store provides durable access to the epoch singleton and rotation log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an epoch Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanState(row pgx.Row) (*State, error) {
	var s State
	err := row.Scan(
		&s.CurrentEpoch, &s.CurrentPublicKey,
		&s.PreviousEpoch, &s.PreviousPublicKey, &s.GracePeriodEndsAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Current returns the singleton epoch state, or nil if uninitialized.
func (s *Store) Current(ctx context.Context) (*State, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT current_epoch, current_public_key, previous_epoch, previous_public_key, grace_period_ends_at
		FROM epoch_state WHERE id = $1`, singletonID)

	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading epoch state: %w", err)
	}
	return state, nil
}

// Initialize creates the singleton row on first successful contact with the
// signer. It fails if a row already exists.
func (s *Store) Initialize(ctx context.Context, epoch int, publicKey []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO epoch_state (id, current_epoch, current_public_key)
		VALUES ($1, $2, $3)`,
		singletonID, epoch, publicKey,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("initializing epoch state: %w", err)
	}
	return nil
}

// Rotate transitions current→previous, installs the new current epoch, opens
// a fresh grace period, and appends a RotationLogEntry — all in one
// transaction. Fails if no state exists yet.
func (s *Store) Rotate(ctx context.Context, newEpoch int, newPublicKey []byte, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanState(tx.QueryRow(ctx, `
		SELECT current_epoch, current_public_key, previous_epoch, previous_public_key, grace_period_ends_at
		FROM epoch_state WHERE id = $1 FOR UPDATE`, singletonID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotInitialized
		}
		return fmt.Errorf("reading epoch state for rotation: %w", err)
	}

	graceEndsAt := time.Now().Add(GracePeriod)

	if _, err := tx.Exec(ctx, `
		INSERT INTO rotation_log (from_epoch, to_epoch, from_public_key, to_public_key, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		current.CurrentEpoch, newEpoch, current.CurrentPublicKey, newPublicKey, reason,
	); err != nil {
		return fmt.Errorf("appending rotation log: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE epoch_state SET
			previous_epoch = $2,
			previous_public_key = $3,
			current_epoch = $4,
			current_public_key = $5,
			grace_period_ends_at = $6
		WHERE id = $1`,
		singletonID, current.CurrentEpoch, current.CurrentPublicKey, newEpoch, newPublicKey, graceEndsAt,
	); err != nil {
		return fmt.Errorf("rotating epoch state: %w", err)
	}

	return tx.Commit(ctx)
}

// DeprecatePrevious clears previous_* once the grace period has expired (or
// was never set). Idempotent: a no-op when there is nothing to clear.
func (s *Store) DeprecatePrevious(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE epoch_state SET
			previous_epoch = NULL,
			previous_public_key = NULL,
			grace_period_ends_at = NULL
		WHERE id = $1
			AND previous_epoch IS NOT NULL
			AND (grace_period_ends_at IS NULL OR grace_period_ends_at <= now())`,
		singletonID,
	)
	if err != nil {
		return fmt.Errorf("deprecating previous epoch: %w", err)
	}
	return nil
}

// History returns the most recent rotation log entries, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]*RotationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, from_epoch, to_epoch, from_public_key, to_public_key, reason, created_at
		FROM rotation_log
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rotation log: %w", err)
	}
	defer rows.Close()

	var out []*RotationLogEntry
	for rows.Next() {
		var e RotationLogEntry
		if err := rows.Scan(&e.ID, &e.FromEpoch, &e.ToEpoch, &e.FromPublicKey, &e.ToPublicKey, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning rotation log row: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rotation log: %w", err)
	}
	return out, nil
}
