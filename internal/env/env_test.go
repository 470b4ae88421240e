package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrischmann/envconfig"
)

func TestEnvironment(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("FIXTURES_DYNAMODB_ENDPOINT", "http://localhost:8000")

	e := &Environment{}
	require.NoError(t, envconfig.Init(e))
	assert.True(t, e.Debug)
	assert.Equal(t, "us-east-1", e.AWSRegion)
	assert.Equal(t, "http://localhost:8000", e.DynamoDBEndpoint)
	assert.Equal(t, "", e.RedisAddr)
}

func TestGet(t *testing.T) {
	assert.NotNil(t, Get())
}
