package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestInit(t *testing.T) {
	assert := assert.New(t)
	defer func() { Log = zap.NewNop().Sugar() }()

	assert.NoError(Init("debug"))
	assert.True(Log.Desugar().Core().Enabled(zap.DebugLevel))

	assert.NoError(Init(""))
	assert.False(Log.Desugar().Core().Enabled(zap.DebugLevel))
	assert.True(Log.Desugar().Core().Enabled(zap.InfoLevel))

	assert.Error(Init("loud"))
}
