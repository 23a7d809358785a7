package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterEnv(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_API_KEY=sk-real",
		"ANTHROPIC_API_KEY_BACKUP=keep",
		"HOME=/root",
	}

	got := filterEnv(env, "ANTHROPIC_API_KEY")

	assert.Equal(t, []string{"PATH=/usr/bin", "ANTHROPIC_API_KEY_BACKUP=keep", "HOME=/root"}, got)
	assert.Len(t, env, 4, "input must not be modified")
}

func TestMaskString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"sk-1234567890abcd", "sk-1*********abcd"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, maskString(tt.in), tt.in)
	}
}

func TestSetupLogging_SetsDefault(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	setupLogging(true, false)

	assert.Same(t, logger, slog.Default())
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	setupLogging(false, false)

	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}
