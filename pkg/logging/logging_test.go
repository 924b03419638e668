package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zap.AtomicLevel
	}{
		{"", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"debug", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"warn", zap.NewAtomicLevelAt(zap.WarnLevel)},
	}
	for _, json := range []bool{false, true} {
		for _, tt := range tests {
			log, err := New(tt.level, json)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.want.Level()), "level %q json=%v", tt.level, json)
			if tt.want.Level() > zap.DebugLevel {
				assert.False(t, log.Core().Enabled(tt.want.Level()-1))
			}
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", false)
	assert.Error(t, err)
}
