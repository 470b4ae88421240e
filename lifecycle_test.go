package fixtures

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// countingBackend records every call it receives.
type countingBackend[R any] struct {
	mu       sync.Mutex
	inserted []R
	removed  []R
	insertFn func(R) error
	removeFn func(R) error
}

func (b *countingBackend[R]) Insert(ctx context.Context, record R) error {
	b.mu.Lock()
	b.inserted = append(b.inserted, record)
	fn := b.insertFn
	b.mu.Unlock()
	if fn != nil {
		return fn(record)
	}
	return nil
}

func (b *countingBackend[R]) Remove(ctx context.Context, record R) error {
	b.mu.Lock()
	b.removed = append(b.removed, record)
	fn := b.removeFn
	b.mu.Unlock()
	if fn != nil {
		return fn(record)
	}
	return nil
}

func (b *countingBackend[R]) insertCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inserted)
}

func (b *countingBackend[R]) removeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.removed)
}

func TestNewLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewLifecycle[int](nil)
	assert.Equal(t, []int{}, f.Data())
	assert.Equal(t, 0, f.Len())

	err := f.Insert(ctx, 1)
	assert.EqualError(t, err, "insert must be implemented in your data fixture")
	assert.ErrorIs(t, err, ErrNotImplemented)

	err = f.Remove(ctx, 1)
	assert.EqualError(t, err, "remove must be implemented in your data fixture")
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestBackendFuncs(t *testing.T) {
	ctx := context.Background()

	f := NewLifecycle[int](BackendFuncs[int]{})
	var notImplemented *NotImplementedError
	err := f.Insert(ctx, 1)
	require.ErrorAs(t, err, &notImplemented)
	assert.Equal(t, "insert", notImplemented.Op)
	err = f.Remove(ctx, 1)
	require.ErrorAs(t, err, &notImplemented)
	assert.Equal(t, "remove", notImplemented.Op)

	var inserts, removes int32
	f = NewLifecycle[int](BackendFuncs[int]{
		InsertFunc: func(context.Context, int) error { atomic.AddInt32(&inserts, 1); return nil },
		RemoveFunc: func(context.Context, int) error { atomic.AddInt32(&removes, 1); return nil },
	})
	_, err = f.Provision(ctx, []int{1, 2})
	require.NoError(t, err)
	require.NoError(t, f.Cleanup(ctx))
	assert.EqualValues(t, 2, inserts)
	assert.EqualValues(t, 2, removes)
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend[int]{}
	f := NewLifecycle[int](b)

	res, err := f.Provision(ctx, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, res)
	assert.Equal(t, 3, b.insertCalls())
	assert.Equal(t, 3, f.Len())
	assert.ElementsMatch(t, []int{1, 2, 3}, f.Data())
}

func TestProvisionDuplicates(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend[int]{}
	f := NewLifecycle[int](b)

	_, err := f.Provision(ctx, []int{7, 7, 7})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())

	require.NoError(t, f.Cleanup(ctx))
	assert.Equal(t, 3, b.removeCalls())
}

func TestProvisionEmpty(t *testing.T) {
	b := &countingBackend[int]{}
	f := NewLifecycle[int](b)
	res, err := f.Provision(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, 0, b.insertCalls())
}

func TestProvisionCopiesInput(t *testing.T) {
	ctx := context.Background()
	f := NewLifecycle[map[string]interface{}](BackendFuncs[map[string]interface{}]{
		InsertFunc: func(_ context.Context, r map[string]interface{}) error {
			r["hash_key"] = r["make"].(string) + ";" + r["model"].(string)
			r["tags"].([]interface{})[0] = "changed"
			return nil
		},
	})

	original := map[string]interface{}{
		"make":  "Pontiac",
		"model": "Grand Prix",
		"tags":  []interface{}{"classic"},
	}
	res, err := f.Provision(ctx, []map[string]interface{}{original})
	require.NoError(t, err)

	assert.Len(t, original, 3)
	assert.NotContains(t, original, "hash_key")
	assert.Equal(t, "classic", original["tags"].([]interface{})[0])

	require.Len(t, res, 1)
	assert.Equal(t, "Pontiac;Grand Prix", res[0]["hash_key"])
	assert.Equal(t, "Pontiac;Grand Prix", f.Data()[0]["hash_key"])
}

func TestProvisionCopiesPointers(t *testing.T) {
	type record struct {
		Name string
		Key  string
	}
	ctx := context.Background()
	f := NewLifecycle[*record](BackendFuncs[*record]{
		InsertFunc: func(_ context.Context, r *record) error {
			r.Key = "k-" + r.Name
			return nil
		},
	})
	original := &record{Name: "a"}
	_, err := f.Provision(ctx, []*record{original})
	require.NoError(t, err)
	assert.Equal(t, "", original.Key)
	assert.NotSame(t, original, f.Data()[0])
	assert.Equal(t, "k-a", f.Data()[0].Key)
}

func TestProvisionCloneError(t *testing.T) {
	b := &countingBackend[int]{}
	f := NewLifecycle[int](b, LifecycleCloner[int](func(int) (int, error) {
		return 0, errBoom
	}))
	_, err := f.Provision(context.Background(), []int{1, 2})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, b.insertCalls())
	assert.Equal(t, 0, f.Len())
}

func TestProvisionFailureSequential(t *testing.T) {
	b := &countingBackend[int]{insertFn: func(r int) error {
		if r == 2 {
			return errBoom
		}
		return nil
	}}
	f := NewLifecycle[int](b, LifecycleConcurrency[int](1))

	res, err := f.Provision(context.Background(), []int{1, 2, 3})
	assert.Equal(t, errBoom, err)
	assert.Nil(t, res)
	assert.Equal(t, []int{1}, f.Data())
	assert.Equal(t, 2, b.insertCalls())
}

func TestProvisionFailureConcurrent(t *testing.T) {
	b := &countingBackend[int]{insertFn: func(r int) error {
		if r == 2 {
			return errBoom
		}
		return nil
	}}
	f := NewLifecycle[int](b)

	_, err := f.Provision(context.Background(), []int{1, 2, 3})
	assert.Equal(t, errBoom, err)
	// Which of the other inserts completed is not defined.
	assert.LessOrEqual(t, f.Len(), 2)
	assert.NotContains(t, f.Data(), 2)
}

func TestProvisionConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	f := NewLifecycle[int](BackendFuncs[int]{
		InsertFunc: func(context.Context, int) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		},
	}, LifecycleConcurrency[int](2))

	records := make([]int, 20)
	_, err := f.Provision(context.Background(), records)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 20, f.Len())
}

func TestAddData(t *testing.T) {
	b := &countingBackend[int]{}
	f := NewLifecycle[int](b)
	assert.Equal(t, 1, f.AddData(1))
	assert.Equal(t, 2, f.AddData(1))
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 0, b.insertCalls())
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend[int]{}
	f := NewLifecycle[int](b)
	f.AddData(1)
	f.AddData(2)
	f.AddData(3)

	require.NoError(t, f.Cleanup(ctx))
	assert.Equal(t, 3, b.removeCalls())
	assert.ElementsMatch(t, []int{1, 2, 3}, b.removed)
	assert.Equal(t, 0, f.Len())
}

func TestCleanupEmpty(t *testing.T) {
	b := &countingBackend[int]{}
	f := NewLifecycle[int](b)
	require.NoError(t, f.Cleanup(context.Background()))
	require.NoError(t, f.Cleanup(context.Background()))
	assert.Equal(t, 0, b.removeCalls())
}

func TestCleanupFailure(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend[int]{removeFn: func(r int) error {
		if r == 2 {
			return errBoom
		}
		return nil
	}}
	f := NewLifecycle[int](b)
	_, err := f.Provision(ctx, []int{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, errBoom, f.Cleanup(ctx))
	assert.Equal(t, 3, f.Len())

	b.mu.Lock()
	b.removeFn = nil
	b.mu.Unlock()
	require.NoError(t, f.Cleanup(ctx))
	assert.Equal(t, 0, f.Len())
}

func TestCleanupNotImplemented(t *testing.T) {
	f := NewLifecycle[int](nil)
	f.AddData(1)
	assert.ErrorIs(t, f.Cleanup(context.Background()), ErrNotImplemented)
	assert.Equal(t, 1, f.Len())
}

func TestLifecycleReuse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore[int, int]()
	f := NewLifecycle[int](NewMemoryBackend(store, func(r int) int { return r }))

	for i := 0; i < 3; i++ {
		_, err := f.Provision(ctx, []int{1, 2})
		require.NoError(t, err)
		assert.Equal(t, 2, f.Len())
		assert.Equal(t, 2, store.Len())
		require.NoError(t, f.Cleanup(ctx))
		assert.Equal(t, 0, f.Len())
		assert.Equal(t, 0, store.Len())
	}
}

func TestLifecycleSetUpTearDown(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore[string, string]()
	f := NewLifecycle[string](
		NewMemoryBackend(store, func(r string) string { return r }),
		LifecycleSeed("a", "b"),
	)
	require.NoError(t, f.SetUp(ctx))
	assert.Equal(t, 2, store.Len())
	require.NoError(t, f.TearDown(ctx))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, f.Len())
}
