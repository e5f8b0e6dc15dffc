package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

// User-facing replies returned instead of errors when the backend cannot answer.
const (
	UnavailableReply     = "ИИ-сервис временно недоступен. Попробуй позже."
	ConnectionErrorReply = "Произошла ошибка связи с ИИ-сервисом."
)

const previewLimit = 200

// Gateway turns a conversation into a reply using the configured provider.
// It never fails: every problem is logged and converted to a fixed reply.
type Gateway struct {
	provider Provider
}

// NewGateway wraps provider. A nil provider yields a gateway that always
// answers with UnavailableReply.
func NewGateway(provider Provider) *Gateway {
	return &Gateway{provider: provider}
}

// Available reports whether a provider is configured.
func (g *Gateway) Available() bool {
	return g != nil && g.provider != nil
}

// ProviderName returns the configured provider or "none".
func (g *Gateway) ProviderName() string {
	if !g.Available() {
		return "none"
	}
	return g.provider.Name()
}

// Complete prepends systemPrompt to history, asks the provider and returns the trimmed reply.
func (g *Gateway) Complete(ctx context.Context, history []chat.Turn, systemPrompt string) string {
	if !g.Available() {
		log.Warn().Str("component", "ai").Msg("completion requested but no provider is configured")
		return UnavailableReply
	}

	messages := make([]chat.Turn, 0, len(history)+1)
	messages = append(messages, chat.Turn{Role: chat.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)

	logger := log.With().Str("component", "ai").Str("provider", g.provider.Name()).Logger()
	logger.Debug().Str("request", preview(messages)).Msg("sending completion request")

	reply, err := g.provider.Generate(ctx, messages)
	if err == nil {
		reply = strings.TrimSpace(reply)
		if reply == "" {
			err = ErrEmptyReply
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("completion failed")
		return degradedReply(err)
	}

	logger.Debug().Int("length", len(reply)).Msg("completion received")
	return reply
}

func degradedReply(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential),
		errors.Is(err, ErrUpstreamStatus),
		errors.Is(err, ErrEmptyReply):
		return UnavailableReply
	default:
		return ConnectionErrorReply
	}
}

func preview(messages []chat.Turn) string {
	data, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	runes := []rune(string(data))
	if len(runes) <= previewLimit {
		return string(runes)
	}
	return string(runes[:previewLimit]) + "..."
}
