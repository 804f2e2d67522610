package config

import (
	log "log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func noEnvFile(t *testing.T) []string {
	return []string{"--env", filepath.Join(t.TempDir(), "absent.env")}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t), envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, log.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "en-US", cfg.Language)
	assert.Equal(t, 1.0, cfg.Speed)
	assert.True(t, cfg.Emotions)
	assert.Equal(t, 3*time.Second, cfg.SilenceTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ResumeDelay)
	assert.Empty(t, cfg.Proxy)
	assert.False(t, cfg.Direct)
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"VOX_MODEL=from-file\nVOX_VOICE=file-voice\nVOX_LANGUAGE=de-DE\nOPENAI_API_KEY=sk-file\n"), 0o600))

	env := envOf(map[string]string{
		"VOX_MODEL":           "from-env",
		"VOX_SILENCE_TIMEOUT": "1500ms",
		"VOX_EMOTIONS":        "false",
	})

	cfg, err := Load([]string{"-e", envFile, "--language", "fr-FR", "-l", "debug"}, env)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Model, "environment beats .env")
	assert.Equal(t, "file-voice", cfg.Voice, ".env beats defaults")
	assert.Equal(t, "fr-FR", cfg.Language, "flags beat everything")
	assert.Equal(t, "sk-file", cfg.OpenAIKey)
	assert.Equal(t, 1500*time.Millisecond, cfg.SilenceTimeout)
	assert.False(t, cfg.Emotions)
	assert.Equal(t, log.LevelDebug, cfg.LogLevel)
}

func TestInvalidValues(t *testing.T) {
	_, err := Load(noEnvFile(t), envOf(map[string]string{"VOX_SPEED": "fast"}))
	assert.ErrorContains(t, err, "VOX_SPEED")

	_, err = Load(append(noEnvFile(t), "--log", "loud"), envOf(nil))
	assert.ErrorContains(t, err, "log level")

	_, err = Load(append(noEnvFile(t), "--direct"), envOf(nil))
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = Load(append(noEnvFile(t), "--speed", "0", "--silence", "0s"), envOf(nil))
	assert.ErrorContains(t, err, "speed")
	assert.ErrorContains(t, err, "silence")

	_, err = Load([]string{"--no-such-flag"}, envOf(nil))
	assert.Error(t, err)
}
