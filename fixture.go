package fixtures

import "context"

// Fixture is anything that can be set up before tests run and torn down after.
type Fixture interface {
	SetUp(ctx context.Context) error
	TearDown(ctx context.Context) error
}
