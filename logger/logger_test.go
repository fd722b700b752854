package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(
		WithFormat(FormatJSON),
		WithOutput(&buf),
		WithLevel(slog.LevelDebug),
		WithAttr(slog.String("component", "nimbus")),
	)
	log.Debug("applied", Slug("a"), FeatureID("f"), Error(errors.New("broken")))

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "applied", rec["msg"])
	assert.Equal(t, "nimbus", rec["component"])
	assert.Equal(t, "a", rec["slug"])
	assert.Equal(t, "f", rec["feature_id"])
	assert.Equal(t, "broken", rec["error"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(WithOutput(&buf), WithLevel(slog.LevelWarn))
	log.Info("quiet")
	assert.Empty(t, buf.String())
	log.Warn("loud", Error(nil))
	assert.Contains(t, buf.String(), "loud")
}

func TestWithFormatPanics(t *testing.T) {
	assert.Panics(t, func() { New(WithFormat("xml")) })
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}
