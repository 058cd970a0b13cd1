package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, zapLevel(DebugLevel))
	assert.Equal(t, zapcore.WarnLevel, zapLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, zapLevel(ErrorLevel))
	assert.Equal(t, zapcore.InfoLevel, zapLevel("verbose"))
}

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("not initialised", JobID("j"), Float64("percent", 12.5))
		Named("audio").Debug("child")
		Sync()
	})
}
