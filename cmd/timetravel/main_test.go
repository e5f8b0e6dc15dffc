package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/timetravel/backend/internal/config"
	"github.com/zhouzirui/timetravel/backend/internal/service/ai"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "AI_PROVIDER", "AI_TEMPERATURE", "AI_MAX_TOKENS", "SESSION_BACKEND", "REDIS_DB",
		"CHARACTERS_FILE", "SOURCES_FILE", "DEFAULT_PERSONA_ID", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestPersonasCommandPrintsRoster(t *testing.T) {
	clearEnv(t)

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"personas", "--log-level", "error"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "einstein")
	assert.Contains(t, out.String(), "default")
	assert.Contains(t, out.String(), "cleopatra")
	assert.Contains(t, out.String(), "5 citation sources")
}

func TestPersonasCommandFailsOnBrokenCatalog(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "characters.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "einstein"`), 0o600))
	t.Setenv("CHARACTERS_FILE", path)

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"personas"})
	require.Error(t, root.Execute())
}

func TestRootRejectsInvalidBackendFlag(t *testing.T) {
	clearEnv(t)
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"personas", "--backend", "postgres"})
	require.Error(t, root.Execute())
}

func TestOpenSessionStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openSessionStore(ctx, config.StorageConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := config.StorageConfig{Backend: config.BackendSQLite, DataDir: dir}
	db, err := openSessionStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = os.Stat(cfg.SQLitePath())
	require.NoError(t, err)

	_, err = openSessionStore(ctx, config.StorageConfig{Backend: "postgres"})
	require.Error(t, err)
}

func TestNewGatewayDegradesWithoutCredentials(t *testing.T) {
	ctx := context.Background()

	groq := newGateway(ctx, config.AIConfig{Provider: config.ProviderGroq, GroqModel: "llama-3.1-8b-instant"})
	assert.False(t, groq.Available())
	assert.Equal(t, ai.UnavailableReply, groq.Complete(ctx, nil, "prompt"))

	ark := newGateway(ctx, config.AIConfig{Provider: config.ProviderArk})
	assert.False(t, ark.Available())

	ready := newGateway(ctx, config.AIConfig{
		Provider:    config.ProviderGroq,
		GroqAPIKey:  "key",
		GroqBaseURL: "http://127.0.0.1:0",
		GroqModel:   "llama-3.1-8b-instant",
		Temperature: 0.7,
		MaxTokens:   300,
	})
	assert.True(t, ready.Available())
	assert.Equal(t, config.ProviderGroq, ready.ProviderName())
}

func TestShippedConfigsMatchSeed(t *testing.T) {
	personas, sources, err := loadCatalog(config.CatalogConfig{
		CharactersFile:   filepath.Join("..", "..", "configs", "characters.json"),
		SourcesFile:      filepath.Join("..", "..", "configs", "sources.yaml"),
		DefaultPersonaID: "einstein",
	})
	require.NoError(t, err)

	builtIn, builtInSources, err := loadCatalog(config.CatalogConfig{DefaultPersonaID: "einstein"})
	require.NoError(t, err)
	assert.Equal(t, builtIn.List(), personas.List())
	assert.Equal(t, builtInSources.Entries(), sources.Entries())
}
