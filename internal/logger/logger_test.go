package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zap.DebugLevel,
		"warn":  zap.WarnLevel,
		"bogus": zap.InfoLevel,
	}
	for in, want := range cases {
		l, err := New(in, "json")
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(want), in)
		assert.False(t, l.Core().Enabled(want-1), in)
	}
}

func TestNew_Console(t *testing.T) {
	l, err := New("info", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
