package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/repositories"
)

const (
	countersCollection  = "counters"
	counterSwapAttempts = 5
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out monotonically increasing sequence numbers.
// When ctx carries a transaction the increment commits together with the caller's writes.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next increments counterID by step (minimum 1) and returns the new value. Outside a
// transaction the write is conditional on the update time that was read, so stores without
// transactions still hand out distinct values.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.MissingField("counter", "counter id")
	}
	if step < 0 {
		return 0, repositories.InvalidField("counter", "step", "must be positive, got %d", step)
	}
	if step == 0 {
		step = 1
	}

	if _, ok := pfirestore.TxFromContext(ctx); ok {
		return r.advance(ctx, id, step, false)
	}
	for attempt := 1; ; attempt++ {
		next, err := r.advance(ctx, id, step, true)
		if err == nil || !isRepoConflict(err) || attempt == counterSwapAttempts {
			return next, err
		}
	}
}

func (r *CounterRepository) advance(ctx context.Context, id string, step int64, conditional bool) (int64, error) {
	current, err := r.counters.Get(ctx, id)
	if isRepoNotFound(err) {
		if err := r.counters.Create(ctx, id, counterDocument{CurrentValue: step, UpdatedAt: r.now()}); err != nil {
			return 0, err
		}
		return step, nil
	}
	if err != nil {
		return 0, err
	}

	next := current.Data.CurrentValue + step
	var preconds []firestore.Precondition
	if conditional {
		preconds = append(preconds, firestore.LastUpdateTime(current.UpdateTime))
	}
	err = r.counters.Update(ctx, id, []firestore.Update{
		{Path: "currentValue", Value: next},
		{Path: "updatedAt", Value: r.now()},
	}, preconds...)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
