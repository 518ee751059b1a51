package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelValue(t *testing.T) {
	require := require.New(t)

	var lvl Level
	for _, tc := range []struct {
		str      string
		expected Level
	}{
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"Warn", LevelWarn},
		{"ERROR", LevelError},
	} {
		require.NoError(lvl.Set(tc.str), "Set(%s)", tc.str)
		require.Equal(tc.expected, lvl)
	}

	require.Error(lvl.Set("TRACE"), "unknown level must be rejected")
}

func TestFormatValue(t *testing.T) {
	require := require.New(t)

	var f Format
	require.NoError(f.Set("json"))
	require.Equal(FmtJSON, f)
	require.NoError(f.Set("logfmt"))
	require.Equal(FmtLogfmt, f)
	require.Error(f.Set("xml"), "unknown format must be rejected")
}

func TestModuleLevelOverride(t *testing.T) {
	require := require.New(t)

	b := &logBackend{
		defaultLevel: LevelInfo,
		moduleLevels: map[string]Level{
			"entropy":        LevelWarn,
			"entropy/engine": LevelDebug,
		},
	}

	for _, tc := range []struct {
		module   string
		expected Level
	}{
		{"cmd", LevelInfo},
		{"entropy/extfile", LevelWarn},
		{"entropy/engine", LevelDebug},
	} {
		l := &Logger{module: tc.module}
		b.setLevelLocked(l)
		require.Equal(tc.expected, l.level, "module %s", tc.module)
	}
}
