package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGetLogLevel(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, zap.DebugLevel, getLogLevel())

	t.Setenv("ENV", "production")
	assert.Equal(t, zap.InfoLevel, getLogLevel())

	t.Setenv("LOG_LEVEL", "warn")
	assert.Equal(t, zap.WarnLevel, getLogLevel())
}

func TestShouldSample_Bounds(t *testing.T) {
	assert.True(t, ShouldSample(1))
	assert.False(t, ShouldSample(0))
}

func TestCountingRegistry(t *testing.T) {
	m := NewCountingRegistry()
	m.IncrementSelectionOutcome("single", "served")
	m.IncrementSelectionOutcome("single", "served")
	m.AddEntriesRemoved(3)
	assert.Equal(t, 2, m.Outcome("single", "served"))
	assert.Equal(t, 3, m.Removed)
}
