package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

// ChainProvider runs completions through an eino chain: system template,
// history placeholder, chat model.
type ChainProvider struct {
	name  string
	chain compose.Runnable[map[string]any, *schema.Message]
}

var _ Provider = (*ChainProvider)(nil)

// NewChainProvider compiles the prompt chain around chatModel.
func NewChainProvider(ctx context.Context, name string, chatModel model.ChatModel) (*ChainProvider, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile chat chain")
	}

	return &ChainProvider{name: name, chain: runnable}, nil
}

// Name returns the provider label used in logs.
func (p *ChainProvider) Name() string {
	return p.name
}

// Generate invokes the chain with the leading system turn as template input.
func (p *ChainProvider) Generate(ctx context.Context, messages []chat.Turn) (string, error) {
	response, err := p.chain.Invoke(ctx, buildChainInput(messages))
	if err != nil {
		return "", errors.Wrap(err, "failed to run AI chain")
	}
	if response == nil {
		return "", ErrEmptyReply
	}
	return response.Content, nil
}

func buildChainInput(messages []chat.Turn) map[string]any {
	system := ""
	if len(messages) > 0 && messages[0].Role == chat.RoleSystem {
		system = messages[0].Content
		messages = messages[1:]
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}

	return map[string]any{
		"system":  system,
		"history": history,
	}
}
