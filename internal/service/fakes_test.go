package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/workhistory/history-migrator/internal/domain"
	"github.com/workhistory/history-migrator/internal/repository"
)

type fakeSnapshotStore struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	chains   map[string]domain.Chain
	outcome  repository.SaveOutcome
	replaced []bool
}

func newFakeSnapshotStore(errs ...error) *fakeSnapshotStore {
	return &fakeSnapshotStore{errs: errs, chains: map[string]domain.Chain{}, outcome: repository.SaveInserted}
}

func (f *fakeSnapshotStore) SaveChain(_ context.Context, chain domain.Chain, _ string, replace bool) (repository.SaveOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.replaced = append(f.replaced, replace)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	f.chains[chain.ItemID] = chain
	return f.outcome, nil
}

func (f *fakeSnapshotStore) ListByItem(_ context.Context, itemID string) ([]domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chains[itemID].Snapshots, nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]domain.MigrationRun
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[string]domain.MigrationRun{}}
}

func (f *fakeRunStore) Upsert(_ context.Context, run *domain.MigrationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ItemID] = *run
	return nil
}

func (f *fakeRunStore) GetByItem(_ context.Context, itemID string) (*domain.MigrationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[itemID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &run, nil
}

func (f *fakeRunStore) List(_ context.Context, _ repository.RunFilter) ([]domain.MigrationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MigrationRun
	for _, id := range domain.SortedKeys(f.runs) {
		out = append(out, f.runs[id])
	}
	return out, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (f *fakeLocker) Acquire(_ context.Context, itemID string, _ time.Duration) (repository.ReleaseFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[itemID] {
		return nil, repository.ErrItemLeased
	}
	f.held[itemID] = true
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, itemID)
		f.released = append(f.released, itemID)
		return nil
	}, nil
}
