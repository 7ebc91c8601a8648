package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel("warn")
	defer SetLevel("info")

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
}

func TestTranscriptWriter(t *testing.T) {
	var buf bytes.Buffer
	SetTranscriptWriter(&buf)
	defer SetTranscriptWriter(nil)

	LogProviderRequest("openai", "decide", "sys", "user prompt")
	LogProviderResponse("openai", "decide", `{"action":"BUY"}`)

	out := buf.String()
	assert.Contains(t, out, "[PROVIDER][request][openai][decide]")
	assert.Contains(t, out, "--- PROMPT ---\nuser prompt")
	assert.Contains(t, out, "[PROVIDER][response][openai][decide]")
	assert.Equal(t, 2, strings.Count(out, "====="))
}

func TestTranscriptDisabledByDefault(t *testing.T) {
	SetTranscriptWriter(nil)
	assert.NotPanics(t, func() { LogProviderResponse("x", "y", "z") })
}
