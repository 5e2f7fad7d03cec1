package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("verbose")
	require.False(t, ok)
}

// TestContextLogger checks that names and key-values travel with the context.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	l := New(zap.NewAtomicLevelAt(zapcore.DebugLevel), &buf)
	ctx := ToContext(context.Background(), l)
	ctx = WithName(ctx, "wg-upgrade")
	ctx = WithKV(ctx, "stage", "probe")

	InfoKV(ctx, "Probing device", "board", "ugw3")

	out := buf.String()
	require.Contains(t, out, "wg-upgrade")
	require.Contains(t, out, "Probing device")
	require.Contains(t, out, `"stage": "probe"`)
	require.Contains(t, out, `"board": "ugw3"`)
}

// TestFromContext_FallsBackToGlobal ensures a bare context still yields a usable logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, global, FromContext(context.Background()))
}
