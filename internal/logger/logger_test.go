package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(config.LogConfig{Level: "warn"}, &buf)

	l.Info().Msg("hidden")
	l.Warn().Str("board", "b42").Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "b42", entry["board"])
	assert.Equal(t, "warn", entry["level"])
}

func TestWriter_Printf(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(config.LogConfig{Level: "debug"}, &buf)

	Writer(l, "gorm", zerolog.WarnLevel).Printf("slow query %dms\n", 250)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "slow query 250ms", entry["message"])
	assert.Equal(t, "gorm", entry["component"])
	assert.Equal(t, "warn", entry["level"])
}
