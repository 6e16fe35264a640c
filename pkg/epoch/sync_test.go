package epoch

import (
	"context"
	"errors"
	"testing"

	"github.com/FSM1/cipherbox-coordinator/pkg/signer"
)

type fakeSignerContact struct {
	health   signer.HealthStatus
	healthErr error
	key      []byte
	keyErr   error
}

func (f fakeSignerContact) Health(ctx context.Context) (signer.HealthStatus, error) {
	return f.health, f.healthErr
}

func (f fakeSignerContact) PublicKey(ctx context.Context, epoch int) ([]byte, error) {
	return f.key, f.keyErr
}

type fakeSyncStore struct {
	current    *State
	currentErr error

	initialized   bool
	initEpoch     int
	initKey       []byte
	initErr       error

	rotated    bool
	rotateArgs struct {
		epoch  int
		key    []byte
		reason string
	}
	rotateErr error

	history    []*RotationLogEntry
	historyErr error
}

func (f *fakeSyncStore) Current(ctx context.Context) (*State, error) {
	return f.current, f.currentErr
}

func (f *fakeSyncStore) Initialize(ctx context.Context, epoch int, publicKey []byte) error {
	f.initialized = true
	f.initEpoch = epoch
	f.initKey = publicKey
	return f.initErr
}

func (f *fakeSyncStore) Rotate(ctx context.Context, newEpoch int, newPublicKey []byte, reason string) error {
	f.rotated = true
	f.rotateArgs.epoch = newEpoch
	f.rotateArgs.key = newPublicKey
	f.rotateArgs.reason = reason
	return f.rotateErr
}

func (f *fakeSyncStore) History(ctx context.Context, limit int) ([]*RotationLogEntry, error) {
	return f.history, f.historyErr
}

var validKey = append([]byte{0x04}, make([]byte, 64)...)

func TestSyncerBootstrapInitializesWhenUnset(t *testing.T) {
	store := &fakeSyncStore{}
	contact := fakeSignerContact{health: signer.HealthStatus{Healthy: true, Epoch: 3}, key: validKey}
	s := NewSyncer(store, contact)

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if !store.initialized {
		t.Fatal("expected Initialize to be called")
	}
	if store.initEpoch != 3 {
		t.Errorf("initEpoch = %d, want 3", store.initEpoch)
	}
}

func TestSyncerBootstrapNoopWhenAlreadyInitialized(t *testing.T) {
	store := &fakeSyncStore{current: &State{CurrentEpoch: 1, CurrentPublicKey: validKey}}
	contact := fakeSignerContact{health: signer.HealthStatus{Epoch: 1}, key: validKey}
	s := NewSyncer(store, contact)

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if store.initialized {
		t.Fatal("expected Initialize not to be called when already initialized")
	}
}

func TestSyncerBootstrapPropagatesSignerError(t *testing.T) {
	store := &fakeSyncStore{}
	contact := fakeSignerContact{healthErr: errors.New("unreachable")}
	s := NewSyncer(store, contact)

	if err := s.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected error when signer health check fails")
	}
	if store.initialized {
		t.Fatal("expected Initialize not to be called on signer failure")
	}
}

func TestSyncerRotateAdvancesOnNewEpoch(t *testing.T) {
	store := &fakeSyncStore{current: &State{CurrentEpoch: 1, CurrentPublicKey: validKey}}
	contact := fakeSignerContact{health: signer.HealthStatus{Healthy: true, Epoch: 2}, key: validKey}
	s := NewSyncer(store, contact)

	if err := s.Rotate(context.Background(), "scheduled key rotation"); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if !store.rotated {
		t.Fatal("expected Rotate to be called on the store")
	}
	if store.rotateArgs.epoch != 2 {
		t.Errorf("rotateArgs.epoch = %d, want 2", store.rotateArgs.epoch)
	}
	if store.rotateArgs.reason != "scheduled key rotation" {
		t.Errorf("rotateArgs.reason = %q", store.rotateArgs.reason)
	}
}

func TestSyncerRotateNoopWhenEpochUnchanged(t *testing.T) {
	store := &fakeSyncStore{current: &State{CurrentEpoch: 4, CurrentPublicKey: validKey}}
	contact := fakeSignerContact{health: signer.HealthStatus{Healthy: true, Epoch: 4}}
	s := NewSyncer(store, contact)

	if err := s.Rotate(context.Background(), "noop"); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if store.rotated {
		t.Fatal("expected Rotate not to be called when the epoch hasn't moved")
	}
}

func TestSyncerRotateBootstrapsWhenUninitialized(t *testing.T) {
	store := &fakeSyncStore{}
	contact := fakeSignerContact{health: signer.HealthStatus{Healthy: true, Epoch: 1}, key: validKey}
	s := NewSyncer(store, contact)

	if err := s.Rotate(context.Background(), "first rotation"); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if !store.initialized {
		t.Fatal("expected Rotate to fall back to Initialize when unset")
	}
	if store.rotated {
		t.Fatal("did not expect Rotate to be called when falling back to Initialize")
	}
}

func TestSyncerHistoryDelegatesToStore(t *testing.T) {
	want := []*RotationLogEntry{{ID: 1, ToEpoch: 2}}
	store := &fakeSyncStore{history: want}
	s := NewSyncer(store, fakeSignerContact{})

	got, err := s.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("History() = %+v, want %+v", got, want)
	}
}
