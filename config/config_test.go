package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15000, cfg.Budget.SessionTokens)
	assert.Equal(t, int64(4000), cfg.Budget.MaxTokensPerCall)
	assert.Equal(t, 24000, cfg.Context.CeilingChars)
	assert.Equal(t, 180*time.Second, cfg.Council.SlotTimeout)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadLayersFileDotEnvAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.toml")
	writeFile(t, path, `
[server]
addr = ":9090"

[models]
sonnet = "claude-sonnet-4"
gpt = "gpt-4o"

[council]
theme = "Neon Tokyo"
slot_timeout = "90s"

[budget]
session_tokens = 8000
`)
	dotEnv := filepath.Join(dir, ".env")
	writeFile(t, dotEnv, "# comment\nexport MODEL_HAIKU='claude-haiku-3'\nMODEL_GPT=gpt-from-dotenv\n")

	// already set variables win over .env; .env values leak into the process
	t.Setenv("MODEL_GPT", "gpt-4.1")
	t.Setenv("SESSION_TOKEN_BUDGET", "12000")
	t.Setenv("COUNCIL_DB_PATH", filepath.Join(dir, "council.db"))
	t.Cleanup(func() { _ = os.Unsetenv("MODEL_HAIKU") })

	cfg, err := Load(path, dotEnv)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "Neon Tokyo", cfg.Council.Theme)
	assert.Equal(t, 90*time.Second, cfg.Council.SlotTimeout)
	assert.Equal(t, 12000, cfg.Budget.SessionTokens, "environment beats the file")
	assert.Equal(t, "sqlite", cfg.Store.Backend)

	keys := cfg.Models.Keys()
	assert.Equal(t, "claude-sonnet-4", keys[agent.KeySonnet])
	assert.Equal(t, "gpt-4.1", keys[agent.KeyGPT])
	assert.Equal(t, "claude-haiku-3", keys[agent.KeyHaiku])
	_, ok := keys[agent.KeyOpus]
	assert.False(t, ok, "unset models are omitted")
}

func TestLoadWithoutFiles(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	writeFile(t, path, "[server\naddr = 1")
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Budget.SessionTokens = 0
	cfg.Council.Theme = "Space Pirates"
	cfg.Store.Backend = "sqlite"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	fields := map[string]bool{}
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	for _, e := range joined.Unwrap() {
		var ve *ValidationError
		require.True(t, errors.As(e, &ve))
		fields[ve.Field] = true
	}
	assert.Equal(t, map[string]bool{
		"budget.session_tokens": true,
		"council.theme":         true,
		"store.db_path":         true,
		"log.format":            true,
	}, fields)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.toml")
	writeFile(t, path, "[council]\nmax_refinements = 2\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, "", func(cfg *Config, err error) {
			if err == nil {
				reloaded <- cfg
			}
		})
	}()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "[council]\nmax_refinements = 5\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 5, cfg.Council.MaxRefinements)
	case <-time.After(5 * time.Second):
		t.Fatalf("config was not reloaded")
	}

	cancel()
	require.NoError(t, <-done)
}
