package fixtures

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type LifecycleOpt[R any] func(*Lifecycle[R])

// NewLifecycle returns a lifecycle with nothing tracked. A nil backend is allowed; every insert and
// remove then fails with NotImplementedError.
func NewLifecycle[R any](backend Backend[R], opts ...LifecycleOpt[R]) *Lifecycle[R] {
	f := &Lifecycle[R]{
		backend: backend,
		clone:   DeepCopy[R],
		data:    []R{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	return f
}

func LifecycleLogger[R any](logger *zap.Logger) LifecycleOpt[R] {
	return func(f *Lifecycle[R]) {
		f.log = logger
	}
}

func LifecycleCloner[R any](clone Cloner[R]) LifecycleOpt[R] {
	return func(f *Lifecycle[R]) {
		f.clone = clone
	}
}

// Limit the number of backend calls in flight during Provision and Cleanup. Values <= 0 mean
// unbounded, which is the default. A limit of 1 runs the calls sequentially.
func LifecycleConcurrency[R any](n int) LifecycleOpt[R] {
	return func(f *Lifecycle[R]) {
		f.concurrency = n
	}
}

// Records provisioned by SetUp, which lets a lifecycle be registered with Fixtures.
func LifecycleSeed[R any](records ...R) LifecycleOpt[R] {
	return func(f *Lifecycle[R]) {
		f.seed = records
	}
}

// Lifecycle provisions records into a Backend and remembers them so Cleanup can remove exactly what
// was added. It is meant to be driven by one test harness at a time.
type Lifecycle[R any] struct {
	log         *zap.Logger
	backend     Backend[R]
	clone       Cloner[R]
	concurrency int
	seed        []R

	mu   sync.Mutex
	data []R
}

func (f *Lifecycle[R]) Insert(ctx context.Context, record R) error {
	if f.backend == nil {
		return &NotImplementedError{Op: "insert"}
	}
	return f.backend.Insert(ctx, record)
}

func (f *Lifecycle[R]) Remove(ctx context.Context, record R) error {
	if f.backend == nil {
		return &NotImplementedError{Op: "remove"}
	}
	return f.backend.Remove(ctx, record)
}

// Provision inserts a deep copy of every record and tracks each copy once its insert succeeds.
// The copies are returned in input order. The first insert error is returned as is; records whose
// inserts already succeeded remain tracked.
func (f *Lifecycle[R]) Provision(ctx context.Context, records []R) ([]R, error) {
	copies, err := cloneAll(f.clone, records)
	if err != nil {
		return nil, err
	}
	t := newTimer()
	err = f.each(copies, func(record R) error {
		if err := f.Insert(ctx, record); err != nil {
			return err
		}
		f.mu.Lock()
		f.data = append(f.data, record)
		f.mu.Unlock()
		return nil
	})
	if err != nil {
		f.log.Debug("provision failed", zap.Int("records", len(copies)), zap.Int("tracked", f.Len()), zap.Error(err))
		return nil, err
	}
	f.log.Debug("provision", zap.Int("records", len(copies)), zap.Int("tracked", f.Len()), zap.Duration("duration", t.Duration()))
	return copies, nil
}

// AddData tracks a record without inserting it, for data created as a side effect of a test.
// It returns the number of tracked records.
func (f *Lifecycle[R]) AddData(record R) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, record)
	return len(f.data)
}

// Cleanup removes every tracked record. Tracking is only reset when all removes succeed; otherwise
// the first error is returned and the records stay tracked.
func (f *Lifecycle[R]) Cleanup(ctx context.Context) error {
	snapshot := f.Data()
	t := newTimer()
	if err := f.each(snapshot, func(record R) error {
		return f.Remove(ctx, record)
	}); err != nil {
		f.log.Debug("cleanup failed", zap.Int("tracked", len(snapshot)), zap.Error(err))
		return err
	}

	f.mu.Lock()
	// AddData may have appended while the removes were running.
	f.data = append([]R{}, f.data[len(snapshot):]...)
	f.mu.Unlock()

	f.log.Debug("cleanup", zap.Int("removed", len(snapshot)), zap.Duration("duration", t.Duration()))
	return nil
}

// Data returns a copy of the tracked records in the order they were tracked.
func (f *Lifecycle[R]) Data() []R {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]R{}, f.data...)
}

func (f *Lifecycle[R]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func (f *Lifecycle[R]) SetUp(ctx context.Context) error {
	_, err := f.Provision(ctx, f.seed)
	return err
}

func (f *Lifecycle[R]) TearDown(ctx context.Context) error {
	return f.Cleanup(ctx)
}

// each runs fn for every record and returns the first error. Once a call has failed no further
// calls are started, but calls already in flight run to completion.
func (f *Lifecycle[R]) each(records []R, fn func(R) error) error {
	g, failed := errgroup.WithContext(context.Background())
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for _, record := range records {
		if failed.Err() != nil {
			break
		}
		record := record
		g.Go(func() error {
			if failed.Err() != nil {
				return nil
			}
			return fn(record)
		})
	}
	return g.Wait()
}
