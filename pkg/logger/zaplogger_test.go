package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_InfoCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZapLogger("trafficwatch", Options{Env: "test"}, &buf)

	l.Info("live ingest finished", map[string]any{"records_fetched": 2})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "live ingest finished", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "trafficwatch", lines[0]["app_name"])
	assert.Equal(t, "test", lines[0]["app_env"])
	assert.EqualValues(t, 2, lines[0]["records_fetched"])
	assert.Contains(t, lines[0]["caller_file"], "zaplogger_test.go")
	assert.Contains(t, lines[0], "timestamp")
}

func TestLogger_ErrorIncludesMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewZapLogger("trafficwatch", Options{}, &buf)

	l.Error(errors.New("upstream unavailable"), map[string]any{"endpoint": "/snapshots/live"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "upstream unavailable", lines[0]["error"])
	assert.Equal(t, "/snapshots/live", lines[0]["endpoint"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZapLogger("trafficwatch", Options{Level: "warn"}, &buf)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warning("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded")
	l.Error(errors.New("discarded"))
	assert.NoError(t, l.Stop())
}
