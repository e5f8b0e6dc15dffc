package ai

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

var (
	// ErrMissingCredential is returned when a provider is configured without its API key.
	ErrMissingCredential = errors.New("provider credential is not configured")
	// ErrUpstreamStatus marks replies the provider rejected with a non-success status.
	ErrUpstreamStatus = errors.New("provider returned a non-success status")
	// ErrEmptyReply marks responses that carried no completion text.
	ErrEmptyReply = errors.New("provider returned an empty reply")
)

// Provider produces a reply for a full message list, system turn first.
type Provider interface {
	Name() string
	Generate(ctx context.Context, messages []chat.Turn) (string, error)
}
