package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/redis"
)

type memorySnapshots struct {
	mu      sync.Mutex
	entries map[string]domain.ReputationEntry
	batches int
	err     error
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{entries: map[string]domain.ReputationEntry{}}
}

func (m *memorySnapshots) UpsertReputation(_ context.Context, entries []domain.ReputationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches++
	for _, e := range entries {
		m.entries[e.FID] = e
	}
	return nil
}

func (m *memorySnapshots) AllReputation(context.Context) ([]domain.ReputationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ReputationEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func newLiveStore(t *testing.T) (*redis.ReputationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewReputationStoreWithClient(client, zerolog.Nop()), mr
}

func TestSnapshotJob_Snapshot(t *testing.T) {
	live, _ := newLiveStore(t)
	ctx := context.Background()
	require.NoError(t, live.Apply(ctx, []domain.ReputationUpdate{
		{FID: "1", Score: 10},
		{FID: "2", Score: 20},
		{FID: "3", Score: 30, Username: "three"},
	}))

	snapshots := newMemorySnapshots()
	job := NewSnapshotJob(live, snapshots, 2, zerolog.Nop())

	written, err := job.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, 2, snapshots.batches)
	assert.Equal(t, int64(1), snapshots.entries["3"].Rank)
	assert.Equal(t, "three", snapshots.entries["3"].Username)
}

func TestSnapshotJob_RunPropagatesErrors(t *testing.T) {
	live, _ := newLiveStore(t)
	require.NoError(t, live.Apply(context.Background(), []domain.ReputationUpdate{{FID: "1", Score: 1}}))

	snapshots := newMemorySnapshots()
	snapshots.err = errors.New("db down")

	job := NewSnapshotJob(live, snapshots, 10, zerolog.Nop())
	assert.Equal(t, "reputation_snapshot", job.Name())
	assert.Error(t, job.Run())
}

func TestSnapshotJob_RestoreIfEmpty(t *testing.T) {
	live, mr := newLiveStore(t)
	ctx := context.Background()

	snapshots := newMemorySnapshots()
	require.NoError(t, snapshots.UpsertReputation(ctx, []domain.ReputationEntry{
		{FID: "a", Score: 5, Rank: 2},
		{FID: "b", Score: 9, Rank: 1, DisplayName: "Bee"},
	}))

	job := NewSnapshotJob(live, snapshots, 10, zerolog.Nop())

	restored, err := job.RestoreIfEmpty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	entry, err := live.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Rank)
	assert.Equal(t, "Bee", entry.DisplayName)

	// populated stores are left alone
	restored, err = job.RestoreIfEmpty(ctx)
	require.NoError(t, err)
	assert.Zero(t, restored)

	mr.FlushAll()
	restored, err = job.RestoreIfEmpty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
}

type countingJob struct {
	mu   sync.Mutex
	runs int
}

func (j *countingJob) Run() error {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	return nil
}

func (j *countingJob) Name() string { return "counting" }

func TestScheduler(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, s.AddJob("@every 30m", job))
	require.NoError(t, s.AddJob("0 */15 * * * *", job))
	require.NoError(t, s.AddJob("*/5 * * * *", job))
	assert.Error(t, s.AddJob("not a schedule", job))
	assert.Equal(t, 3, s.Entries())

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)

	s.Start()
	s.Stop()
}
