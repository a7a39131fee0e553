package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

// Ark runs completions through an eino chain: a chat template that places
// the system prompt before the history, followed by the chat model.
type Ark struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArk compiles the chain around chatModel.
func NewArk(ctx context.Context, chatModel model.ChatModel) (*Ark, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("ark: %w", ErrCredentialMissing)
	}

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
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Ark{chain: runnable}, nil
}

// Complete implements Completer.
func (a *Ark) Complete(ctx context.Context, history []chat.Message, systemPrompt string) (string, error) {
	input := map[string]any{
		"system":  systemPrompt,
		"history": buildHistoryMessages(history),
	}

	response, err := a.chain.Invoke(ctx, input)
	if err != nil {
		return "", &NetworkError{Provider: "ark", Err: err}
	}
	if response == nil {
		return "", nil
	}
	return response.Content, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	turns := conversationTurns(messages)
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, msg := range turns {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
