package epoch

import (
	"context"
	"errors"
	"fmt"

	"github.com/FSM1/cipherbox-coordinator/pkg/signer"
)

// SignerContact is the subset of signer.Client a Syncer needs to learn the
// signer's currently active epoch and the public key for an epoch.
type SignerContact interface {
	Health(ctx context.Context) (signer.HealthStatus, error)
	PublicKey(ctx context.Context, epoch int) ([]byte, error)
}

// SyncStore is the subset of Store a Syncer reads and writes through.
type SyncStore interface {
	Current(ctx context.Context) (*State, error)
	Initialize(ctx context.Context, epoch int, publicKey []byte) error
	Rotate(ctx context.Context, newEpoch int, newPublicKey []byte, reason string) error
	History(ctx context.Context, limit int) ([]*RotationLogEntry, error)
}

// Syncer bootstraps the epoch singleton on first contact with the signer and
// drives operator-triggered rotations by asking the signer what its current
// epoch and public key actually are, rather than trusting an admin-supplied
// value.
type Syncer struct {
	store  SyncStore
	signer SignerContact
}

// NewSyncer creates a Syncer over the given epoch Store and signer contact.
func NewSyncer(store SyncStore, signerClient SignerContact) *Syncer {
	return &Syncer{store: store, signer: signerClient}
}

// Bootstrap initializes the singleton row from the signer's current epoch if
// it doesn't exist yet, per spec: "EpochState: initialized on first
// successful contact with the signer." A no-op once a row already exists.
func (s *Syncer) Bootstrap(ctx context.Context) error {
	state, err := s.store.Current(ctx)
	if err != nil {
		return fmt.Errorf("checking epoch state: %w", err)
	}
	if state != nil {
		return nil
	}

	health, err := s.signer.Health(ctx)
	if err != nil {
		return fmt.Errorf("contacting signer for bootstrap: %w", err)
	}
	key, err := s.signer.PublicKey(ctx, health.Epoch)
	if err != nil {
		return fmt.Errorf("fetching signer public key for bootstrap: %w", err)
	}

	if err := s.store.Initialize(ctx, health.Epoch, key); err != nil {
		if errors.Is(err, ErrAlreadyInitialized) {
			return nil
		}
		return fmt.Errorf("initializing epoch state: %w", err)
	}
	return nil
}

// Rotate asks the signer for its currently active epoch and, if that differs
// from what's stored, rotates the singleton to it. Called by the admin
// rotate-epoch endpoint once an operator knows the signer has moved to a new
// key. A no-op if the signer's epoch already matches the stored one; falls
// back to Bootstrap if the singleton doesn't exist yet.
func (s *Syncer) Rotate(ctx context.Context, reason string) error {
	health, err := s.signer.Health(ctx)
	if err != nil {
		return fmt.Errorf("contacting signer for rotation: %w", err)
	}

	current, err := s.store.Current(ctx)
	if err != nil {
		return fmt.Errorf("reading epoch state: %w", err)
	}
	if current == nil {
		return s.Bootstrap(ctx)
	}
	if current.CurrentEpoch == health.Epoch {
		return nil
	}

	key, err := s.signer.PublicKey(ctx, health.Epoch)
	if err != nil {
		return fmt.Errorf("fetching signer public key for rotation: %w", err)
	}
	return s.store.Rotate(ctx, health.Epoch, key, reason)
}

// History returns the most recent rotation log entries, newest first.
func (s *Syncer) History(ctx context.Context, limit int) ([]*RotationLogEntry, error) {
	return s.store.History(ctx, limit)
}
