package fixtures

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// wg tracks containers being purged in the background.
var wg sync.WaitGroup

type FixturesOpt func(*Fixtures)

func NewFixtures(opts ...FixturesOpt) *Fixtures {
	f := &Fixtures{}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger()
	}
	return f
}

func FixturesLogger(logger *zap.Logger) FixturesOpt {
	return func(f *Fixtures) {
		f.log = logger
	}
}

// Fixtures sets up fixtures in the order they are added and tears them down in reverse.
type Fixtures struct {
	log   *zap.Logger
	store map[string]Fixture
	order []string
}

func (f *Fixtures) Add(ctx context.Context, fixtures ...Fixture) error {
	for _, fix := range fixtures {
		if err := f.AddByName(ctx, GetRandomName(0), fix); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fixtures) AddByName(ctx context.Context, name string, fixture Fixture) error {
	if f.store == nil {
		f.order = []string{}
		f.store = map[string]Fixture{}
	}
	if f.log == nil {
		f.log = logger()
	}
	f.order = append(f.order, name)
	f.store[name] = fixture
	t := newTimer()
	if err := fixture.SetUp(ctx); err != nil {
		return fmt.Errorf("failed to setup fixture '%v': %w", name, err)
	}
	f.log.Debug("setup", zap.String("type", typeName(fixture)), zap.String("name", name), zap.Duration("duration", t.Duration()))
	return nil
}

func (f *Fixtures) Get(name string) Fixture {
	return f.store[name]
}

// SetUp runs SetUp again on every fixture, in the order they were added.
func (f *Fixtures) SetUp(ctx context.Context) error {
	for _, name := range f.order {
		fixture := f.store[name]
		t := newTimer()
		if err := fixture.SetUp(ctx); err != nil {
			return fmt.Errorf("failed to setup fixture '%v': %w", name, err)
		}
		f.log.Debug("setup", zap.String("type", typeName(fixture)), zap.String("name", name), zap.Duration("duration", t.Duration()))
	}
	return nil
}

// TearDown tears down every fixture in reverse order. It keeps going after a failure and returns the
// first error.
func (f *Fixtures) TearDown(ctx context.Context) error {
	var firstErr error
	for i := len(f.order) - 1; i >= 0; i-- {
		name := f.order[i]
		fixture := f.Get(name)
		t := newTimer()
		if err := fixture.TearDown(ctx); err != nil {
			f.log.Warn("failed to teardown fixture", zap.String("fixture", name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to teardown fixture '%v': %w", name, err)
			}
			continue
		}
		f.log.Debug("teardown", zap.String("type", typeName(fixture)), zap.String("name", name), zap.Duration("duration", t.Duration()))
	}

	wg.Wait()
	return firstErr
}

// RecoverTearDown returns a deferrable function that will teardown in the event of a panic.
func (f *Fixtures) RecoverTearDown(ctx context.Context) {
	if r := recover(); r != nil {
		if err := f.TearDown(ctx); err != nil {
			f.log.Warn("failed to tear down", zap.Error(err))
		}
		panic(r)
	}
}

// Docker() returns the first Docker fixture. If none exists, panic.
func (f *Fixtures) Docker() *Docker {
	for _, name := range f.order {
		if val, ok := f.store[name].(*Docker); ok {
			return val
		}
	}
	panic("no docker fixture found")
}

// Postgres() returns the first Postgres fixture. If none exists, panic.
func (f *Fixtures) Postgres() *Postgres {
	for _, name := range f.order {
		if val, ok := f.store[name].(*Postgres); ok {
			return val
		}
	}
	panic("no postgres fixture found")
}

// DynamoDB() returns the first DynamoDBLocal fixture. If none exists, panic.
func (f *Fixtures) DynamoDB() *DynamoDBLocal {
	for _, name := range f.order {
		if val, ok := f.store[name].(*DynamoDBLocal); ok {
			return val
		}
	}
	panic("no dynamodb fixture found")
}

func typeName(fixture Fixture) string {
	t := reflect.TypeOf(fixture)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprint(t)
}
