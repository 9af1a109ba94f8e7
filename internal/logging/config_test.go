package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"verbose", zerolog.InfoLevel, false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.raw)
		assert.Equal(t, tt.wantOK, ok, "ParseLevel(%q) ok", tt.raw)
		assert.Equal(t, tt.want, got, "ParseLevel(%q)", tt.raw)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogTimestamp, "not-a-bool")

	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnvOverrides(&cfg)

	assert.Equal(t, zerolog.ErrorLevel, cfg.Level)
	assert.True(t, cfg.NoColor)
	assert.True(t, cfg.Timestamp, "invalid bool must keep the default")
}

func TestDefaultConfigProfiles(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, DefaultConfig(ProfileTest).Level)
	assert.False(t, DefaultConfig(ProfileTest).Timestamp)
	assert.Equal(t, zerolog.InfoLevel, DefaultConfig(ProfileRuntime).Level)
}

func TestApplyWritesToOutput(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, NoColor: true, Output: &buf})

	log.Debug().Msg("hidden")
	log.Info().Int("port", 9002).Msg("proxy found")

	out := buf.String()
	require.Contains(t, out, "proxy found")
	assert.Contains(t, out, "port=9002")
	assert.False(t, strings.Contains(out, "hidden"))
}
