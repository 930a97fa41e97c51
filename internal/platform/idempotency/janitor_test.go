package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchStore struct {
	stubStore
	results []int
	err     error
	limits  []int
}

func (s *batchStore) CleanupExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	if len(s.results) == 0 {
		return 0, s.err
	}
	n := s.results[0]
	s.results = s.results[1:]
	return n, nil
}

func TestJanitorRunDrainsFullBatches(t *testing.T) {
	store := &batchStore{results: []int{2, 2, 1}}
	janitor, err := NewJanitor(store, 2, nil)
	require.NoError(t, err)

	removed, err := janitor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, []int{2, 2, 2}, store.limits)
}

func TestJanitorRunWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Reserve(ctx, "old", "fp", fixedTime.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour)
	require.NoError(t, err)

	janitor, err := NewJanitor(store, 0, nil)
	require.NoError(t, err)
	janitor.clock = func() time.Time { return fixedTime }

	removed, err := janitor.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	res, err := store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)
}

func TestJanitorRunReportsPartialProgress(t *testing.T) {
	store := &batchStore{results: []int{3}, err: errors.New("deadline exceeded")}
	janitor, err := NewJanitor(store, 3, nil)
	require.NoError(t, err)

	removed, err := janitor.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, removed)
}

func TestJanitorSchedule(t *testing.T) {
	janitor, err := NewJanitor(NewMemoryStore(), 10, nil)
	require.NoError(t, err)

	c := cron.New()
	id, err := janitor.Schedule(c, "@every 1h", time.Minute)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = janitor.Schedule(c, "not a schedule", 0)
	assert.Error(t, err)
	_, err = janitor.Schedule(nil, "@every 1h", 0)
	assert.Error(t, err)
}
