// Package scheduler implements the periodic batch job that selects due
// enrollments, orchestrates the sealed signer and the delegated-routing
// publisher, and writes results back to the schedule store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/FSM1/cipherbox-coordinator/internal/telemetry"
	"github.com/FSM1/cipherbox-coordinator/pkg/epoch"
	"github.com/FSM1/cipherbox-coordinator/pkg/schedule"
	"github.com/FSM1/cipherbox-coordinator/pkg/signer"
)

// ScheduleStore is the subset of schedule.Store the engine depends on.
type ScheduleStore interface {
	Due(ctx context.Context, limit int) ([]*schedule.Enrollment, error)
	RecordSuccess(ctx context.Context, p schedule.RecordSuccessParams) error
	RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error
}

// EpochStore is the subset of epoch.Store the engine depends on.
type EpochStore interface {
	Current(ctx context.Context) (*epoch.State, error)
}

// Signer signs and reseals a chunk of enrollments.
type Signer interface {
	SignBatch(ctx context.Context, entries []signer.BatchEntry) ([]signer.BatchResult, error)
}

// Publisher publishes one signed record to the routing layer.
type Publisher interface {
	Publish(ctx context.Context, ipnsName, signedRecordB64 string) error
}

// Notifier is told when a run suggests the signer or routing is down.
// A no-op implementation is fine; this is an operator convenience signal.
type Notifier interface {
	Warn(ctx context.Context, message string)
}

// noopNotifier discards all warnings.
type noopNotifier struct{}

func (noopNotifier) Warn(context.Context, string) {}

// Engine runs the batch scheduler on a timer, taking a Redis-backed lease so
// only one coordinator process executes a tick at a time.
type Engine struct {
	store     ScheduleStore
	epochs    EpochStore
	signer    Signer
	publisher Publisher
	rdb       *redis.Client
	notifier  Notifier
	mirror    SequenceMirror
	logger    *slog.Logger

	tickInterval    time.Duration
	batchSize       int
	dueLimit        int
	publishInterval time.Duration
}

// Config holds the tunables Run uses, matching spec §6/§4.5.
type Config struct {
	TickInterval    time.Duration
	BatchSize       int
	DueLimit        int
	PublishInterval time.Duration
}

// NewEngine creates a batch scheduler engine. mirror may be nil, in which
// case successful publishes are not mirrored anywhere.
func NewEngine(store ScheduleStore, epochs EpochStore, signerClient Signer, pub Publisher, rdb *redis.Client, notifier Notifier, mirror SequenceMirror, logger *slog.Logger, cfg Config) *Engine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if mirror == nil {
		mirror = NoopSequenceMirror{}
	}
	return &Engine{
		store:           store,
		epochs:          epochs,
		signer:          signerClient,
		publisher:       pub,
		rdb:             rdb,
		notifier:        notifier,
		mirror:          mirror,
		logger:          logger,
		tickInterval:    cfg.TickInterval,
		batchSize:       cfg.BatchSize,
		dueLimit:        cfg.DueLimit,
		publishInterval: cfg.PublishInterval,
	}
}

// Run starts the scheduler loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("batch scheduler started", "tick_interval", e.tickInterval)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	// Run once at start, same shape as the schedule top-up loop this engine
	// is modeled on: don't wait a full tick interval before the first pass.
	e.tryTick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("batch scheduler stopped")
			return nil
		case <-ticker.C:
			e.tryTick(ctx)
		}
	}
}

// tryTick acquires the single-active-scheduler lease and, if held, runs one
// batch. If another process holds the lease this tick is skipped silently.
func (e *Engine) tryTick(ctx context.Context) {
	lease, err := AcquireLock(ctx, e.rdb, "scheduler")
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return
		}
		e.logger.Error("acquiring scheduler lock", "error", err)
		return
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			e.logger.Error("releasing scheduler lock", "error", err)
		}
	}()

	if _, _, _, err := e.RunOnce(ctx); err != nil {
		e.logger.Error("batch scheduler tick", "error", err)
	}
}

// RunOnce performs a single batch pass: read due entries, sign, publish,
// write results back, and emit metrics. It is exported so admin force-run
// can invoke it directly without waiting for the next tick.
func (e *Engine) RunOnce(ctx context.Context) (processed, succeeded, failed int, err error) {
	start := time.Now()
	defer func() {
		telemetry.SchedulerBatchDuration.Observe(time.Since(start).Seconds())
	}()

	due, err := e.store.Due(ctx, e.dueLimit)
	if err != nil {
		telemetry.SchedulerRunsTotal.WithLabelValues("error").Inc()
		return 0, 0, 0, fmt.Errorf("reading due enrollments: %w", err)
	}
	if len(due) == 0 {
		telemetry.SchedulerRunsTotal.WithLabelValues("empty").Inc()
		return 0, 0, 0, nil
	}

	state, err := e.epochs.Current(ctx)
	if err != nil {
		telemetry.SchedulerRunsTotal.WithLabelValues("error").Inc()
		return 0, 0, 0, fmt.Errorf("reading epoch state: %w", err)
	}
	if state == nil {
		for _, en := range due {
			e.fail(ctx, en.ID, "signer not initialised")
		}
		telemetry.SchedulerRunsTotal.WithLabelValues("failed").Inc()
		telemetry.SchedulerEntriesProcessedTotal.WithLabelValues("failure").Add(float64(len(due)))
		return len(due), 0, len(due), nil
	}

	for _, chunk := range chunkEnrollments(due, e.batchSize) {
		s, f := e.runChunk(ctx, chunk, state)
		succeeded += s
		failed += f
	}
	processed = succeeded + failed

	result := "succeeded"
	switch {
	case succeeded == 0 && failed == processed:
		result = "failed"
	case failed > 0:
		result = "partial"
	}
	telemetry.SchedulerRunsTotal.WithLabelValues(result).Inc()

	if processed > 0 && succeeded == 0 && failed == processed {
		e.logger.Warn("scheduler run processed entries with zero successes — signer or routing likely down",
			"processed", processed)
		e.notifier.Warn(ctx, fmt.Sprintf("republish scheduler: %d entries processed, 0 succeeded — signer or routing likely down", processed))
	}

	return processed, succeeded, failed, nil
}

// runChunk signs and publishes one chunk, returning its success/failure counts.
func (e *Engine) runChunk(ctx context.Context, chunk []*schedule.Enrollment, state *epoch.State) (succeeded, failed int) {
	// The previous epoch is only offered to the signer while its grace
	// period is still active; once it lapses the coordinator stops
	// honoring it even if the row hasn't been deprecated yet.
	var previousEpoch *int
	if state.IsGraceActive(time.Now()) {
		previousEpoch = state.PreviousEpoch
	}

	entries := make([]signer.BatchEntry, len(chunk))
	for i, en := range chunk {
		entries[i] = signer.BatchEntry{
			EncryptedIPNSKey: en.SealedKey,
			KeyEpoch:         en.KeyEpoch,
			IPNSName:         en.IPNSName,
			LatestCID:        en.LatestCID,
			SequenceNumber:   en.SequenceNumber,
			CurrentEpoch:     state.CurrentEpoch,
			PreviousEpoch:    previousEpoch,
		}
	}

	results, err := e.signer.SignBatch(ctx, entries)
	if err != nil {
		for _, en := range chunk {
			e.fail(ctx, en.ID, fmt.Sprintf("signer unreachable: %v", err))
		}
		return 0, len(chunk)
	}

	for i, en := range chunk {
		if i >= len(results) {
			e.fail(ctx, en.ID, "no result from signer")
			failed++
			continue
		}

		res := results[i]
		if !res.Success {
			msg := res.Error
			if msg == "" {
				msg = "unknown signer error"
			}
			e.fail(ctx, en.ID, msg)
			failed++
			continue
		}

		if pubErr := e.publisher.Publish(ctx, en.IPNSName, res.SignedRecord); pubErr != nil {
			// The signer already consumed a sequence number; we do not try to
			// undo it. record_failure below only touches retry bookkeeping.
			e.fail(ctx, en.ID, fmt.Sprintf("publish failed after signing: %v", pubErr))
			failed++
			continue
		}

		e.succeed(ctx, en.ID, en.IPNSName, res)
		succeeded++
	}

	return succeeded, failed
}

func (e *Engine) succeed(ctx context.Context, id uuid.UUID, ipnsName string, res signer.BatchResult) {
	params := schedule.RecordSuccessParams{
		ID:                id,
		NewSequenceNumber: res.NewSequenceNumber,
		PublishInterval:   e.publishInterval,
	}
	if res.UpgradedKeyEpoch != nil && res.UpgradedEncryptedKey != "" {
		key, err := decodeBase64(res.UpgradedEncryptedKey)
		if err != nil {
			e.logger.Warn("discarding malformed upgraded key from signer", "enrollment_id", id, "error", err)
		} else {
			params.UpgradedSealedKey = key
			params.UpgradedKeyEpoch = res.UpgradedKeyEpoch
		}
	}

	if err := e.store.RecordSuccess(ctx, params); err != nil {
		e.logger.Error("recording success", "enrollment_id", id, "error", err)
	}
	telemetry.SchedulerEntriesProcessedTotal.WithLabelValues("success").Inc()
	e.mirror.MirrorSequence(ctx, ipnsName, res.NewSequenceNumber)
}

func (e *Engine) fail(ctx context.Context, id uuid.UUID, reason string) {
	if err := e.store.RecordFailure(ctx, id, reason); err != nil {
		e.logger.Error("recording failure", "enrollment_id", id, "error", err)
	}
	telemetry.SchedulerEntriesProcessedTotal.WithLabelValues("failure").Inc()
}

// chunkEnrollments splits entries into slices of at most size, preserving order.
func chunkEnrollments(entries []*schedule.Enrollment, size int) [][]*schedule.Enrollment {
	if size <= 0 {
		size = len(entries)
	}
	var chunks [][]*schedule.Enrollment
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, entries[i:end])
	}
	return chunks
}
