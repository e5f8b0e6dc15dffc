package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/config"
	"github.com/zhouzirui/timetravel/backend/internal/model/persona"
	"github.com/zhouzirui/timetravel/backend/internal/model/source"
	"github.com/zhouzirui/timetravel/backend/internal/service/ai"
	"github.com/zhouzirui/timetravel/backend/internal/storage/sessionstore"
)

// loadCatalog loads personas and citation sources. Any error is fatal.
func loadCatalog(cfg config.CatalogConfig) (*persona.MemoryStore, *source.Catalog, error) {
	var (
		personas *persona.MemoryStore
		err      error
	)
	if cfg.CharactersFile != "" {
		personas, err = persona.LoadFile(cfg.CharactersFile, cfg.DefaultPersonaID)
	} else {
		personas, err = persona.NewMemoryStore(persona.Seed(), cfg.DefaultPersonaID)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "load persona catalog")
	}

	sources := source.Seed()
	if cfg.SourcesFile != "" {
		if sources, err = source.LoadFile(cfg.SourcesFile); err != nil {
			return nil, nil, errors.Wrap(err, "load citation sources")
		}
	}
	return personas, sources, nil
}

func openSessionStore(ctx context.Context, cfg config.StorageConfig) (sessionstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return sessionstore.NewMemoryStore(), nil
	case config.BackendRedis:
		return sessionstore.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB)
	case config.BackendSQLite, "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create data dir %s", cfg.DataDir)
		}
		dsn, err := sessionstore.SQLiteDSNForFile(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		return sessionstore.NewSQLiteStore(dsn)
	default:
		return nil, errors.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// newGateway builds the configured provider. A missing credential or a
// provider that fails to initialize yields a gateway that always answers with
// the unavailable message.
func newGateway(ctx context.Context, cfg config.AIConfig) *ai.Gateway {
	logger := log.With().Str("component", "ai").Str("provider", cfg.Provider).Logger()

	var (
		provider ai.Provider
		err      error
	)
	switch cfg.Provider {
	case config.ProviderArk:
		if !cfg.ArkEnabled() {
			logger.Warn().Msg("ark credentials not configured, completions disabled")
			return ai.NewGateway(nil)
		}
		chatModel, modelErr := cfg.NewChatModel(ctx)
		if modelErr != nil {
			err = modelErr
			break
		}
		provider, err = ai.NewChainProvider(ctx, config.ProviderArk, chatModel)
	default:
		if cfg.GroqAPIKey == "" {
			logger.Warn().Msg("GROQ_API_KEY not set, completions disabled")
			return ai.NewGateway(nil)
		}
		provider, err = ai.NewOpenAIProvider(config.ProviderGroq, ai.OpenAIConfig{
			APIKey:      cfg.GroqAPIKey,
			BaseURL:     cfg.GroqBaseURL,
			Model:       cfg.GroqModel,
			Temperature: float32(cfg.Temperature),
			MaxTokens:   cfg.MaxTokens,
		})
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize completion provider, completions disabled")
		return ai.NewGateway(nil)
	}

	logger.Info().Msg("completion provider ready")
	return ai.NewGateway(provider)
}
