package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

const geminiProvider = "gemini"

// Gemini is the secondary text provider, reached through the genai SDK.
type Gemini struct {
	model string
	key   KeyFunc
}

// NewGemini creates a Gemini completer. An empty model selects gemini-2.5-flash.
func NewGemini(model string, key KeyFunc) *Gemini {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{model: model, key: key}
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, history []chat.Message, systemPrompt string) (string, error) {
	key := ""
	if g.key != nil {
		key = strings.TrimSpace(g.key())
	}
	if key == "" {
		return "", credentialError(geminiProvider)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("creating gemini client: %w", err)
	}

	turns := conversationTurns(history)
	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		var role genai.Role = genai.RoleUser
		if msg.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}

	res, err := client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", &NetworkError{Provider: geminiProvider, Err: err}
	}

	text := res.Text()
	if text == "" {
		return "", &ProviderError{Provider: geminiProvider, Message: "empty response"}
	}
	return text, nil
}
