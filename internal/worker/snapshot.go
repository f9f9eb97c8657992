package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/domain"
)

// LiveStore is the Redis side of the snapshot
type LiveStore interface {
	All(ctx context.Context) ([]domain.ReputationEntry, error)
	Restore(ctx context.Context, entries []domain.ReputationEntry) error
	Count(ctx context.Context) (int64, error)
}

// SnapshotStore is the Postgres side of the snapshot
type SnapshotStore interface {
	UpsertReputation(ctx context.Context, entries []domain.ReputationEntry) error
	AllReputation(ctx context.Context) ([]domain.ReputationEntry, error)
}

// SnapshotJob copies the live reputation ranking into Postgres
type SnapshotJob struct {
	live      LiveStore
	snapshots SnapshotStore
	batchSize int
	timeout   time.Duration
	log       zerolog.Logger
}

// NewSnapshotJob creates the snapshot job. Entries are written in chunks of
// batchSize.
func NewSnapshotJob(live LiveStore, snapshots SnapshotStore, batchSize int, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		live:      live,
		snapshots: snapshots,
		batchSize: max(batchSize, 1),
		timeout:   2 * time.Minute,
		log:       log.With().Str("job", "reputation_snapshot").Logger(),
	}
}

// Name returns the job name
func (j *SnapshotJob) Name() string {
	return "reputation_snapshot"
}

// Run copies every live entry into the snapshot table
func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.Snapshot(ctx)
	return err
}

// Snapshot copies every live entry and returns how many were written
func (j *SnapshotJob) Snapshot(ctx context.Context) (int, error) {
	start := time.Now()

	entries, err := j.live.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading live reputation: %w", err)
	}

	written := 0
	for from := 0; from < len(entries); from += j.batchSize {
		to := min(from+j.batchSize, len(entries))
		if err := j.snapshots.UpsertReputation(ctx, entries[from:to]); err != nil {
			return written, fmt.Errorf("writing snapshot batch: %w", err)
		}
		written = to
	}

	j.log.Info().
		Int("entries", written).
		Dur("duration", time.Since(start)).
		Msg("Reputation snapshot completed")

	return written, nil
}

// RestoreIfEmpty loads the last snapshot into the live store when the live
// store holds nothing, as after a Redis restart.
func (j *SnapshotJob) RestoreIfEmpty(ctx context.Context) (int, error) {
	count, err := j.live.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting live reputation: %w", err)
	}
	if count > 0 {
		j.log.Debug().Int64("entries", count).Msg("Live store populated, skipping restore")
		return 0, nil
	}

	entries, err := j.snapshots.AllReputation(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := j.live.Restore(ctx, entries); err != nil {
		return 0, fmt.Errorf("restoring live reputation: %w", err)
	}
	return len(entries), nil
}
