package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("WARN", &buf)

	l.Info("hidden %d", 1)
	assert.Zero(t, buf.Len())

	l.Warn("{logger - Test} shown %d", 2)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "{logger - Test} shown 2", line["message"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("ERROR", &buf)
	l.SetLevel("debug")
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}
