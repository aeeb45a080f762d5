package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/nixpig/jobsearch/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer

	logger, err := logging.New(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	var rec map[string]any
	require.NoError(t, sonic.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "v", rec["k"])
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := logging.New(&bytes.Buffer{}, "loud", "json")
	require.Error(t, err)

	_, err = logging.New(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer

	logger, err := logging.New(&buf, "debug", "text")
	require.NoError(t, err)

	parent := logging.ContextAttrs(context.Background(), slog.String("task_id", "t-1"))
	child := logging.ContextAttrs(parent, slog.String("stream", "stderr"))

	logger.With("component", "supervisor").InfoContext(child, "line")

	out := buf.String()
	require.Contains(t, out, "task_id=t-1")
	require.Contains(t, out, "stream=stderr")
	require.Contains(t, out, "component=supervisor")

	buf.Reset()
	logger.InfoContext(parent, "line")
	require.NotContains(t, buf.String(), "stream=stderr")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := logging.ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
