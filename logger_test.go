package routekit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(level string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := NewLogger(level)
	log.Output = buf
	return log, buf
}

func TestLoggerLevelFiltering(t *testing.T) {
	log, buf := newBufferedLogger("warn")

	log.Debug("hidden")
	log.Info("hidden too")
	assert.Empty(t, buf.String())

	log.Warn("visible")
	assert.NotEmpty(t, buf.String())
}

func TestLoggerWritesOneJSONObjectPerLine(t *testing.T) {
	log, buf := newBufferedLogger("debug")

	log.Info("hello", F("route", "/users"))
	log.Error("boom", F("code", 500))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "hello", first["message"])
	assert.Equal(t, "/users", first["route"])
	assert.Equal(t, "INFO", first["level"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "ERROR", second["level"])
	assert.Equal(t, float64(500), second["code"])
}

func TestLoggerWithCarriesFields(t *testing.T) {
	log, buf := newBufferedLogger("debug")
	scoped := log.With(F("requestId", "abc123"))

	scoped.Info("handled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc123", entry["requestId"])
}

func TestLoggerWarnOnceDedupes(t *testing.T) {
	log, buf := newBufferedLogger("warn")

	log.WarnOnce("deprecated-factory-mode", "factory mode is deprecated")
	log.WarnOnce("deprecated-factory-mode", "factory mode is deprecated")
	log.WarnOnce("deprecated-this-mode", "this mode is deprecated")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
}
