package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

const openRouterProvider = "openrouter"

// OpenRouterConfig configures the chat-completions client.
type OpenRouterConfig struct {
	URL     string
	Model   string
	Referer string
	Title   string
}

// OpenRouter talks to an OpenAI-compatible chat-completions endpoint.
type OpenRouter struct {
	cfg    OpenRouterConfig
	key    KeyFunc
	client *http.Client
}

// NewOpenRouter creates the client. httpClient carries the call timeout.
func NewOpenRouter(cfg OpenRouterConfig, key KeyFunc, httpClient *http.Client) *OpenRouter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenRouter{cfg: cfg, key: key, client: httpClient}
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string                  `json:"model"`
	Messages []chatCompletionMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

type providerErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Completer.
func (o *OpenRouter) Complete(ctx context.Context, history []chat.Message, systemPrompt string) (string, error) {
	key := ""
	if o.key != nil {
		key = strings.TrimSpace(o.key())
	}
	if key == "" {
		return "", credentialError(openRouterProvider)
	}

	turns := conversationTurns(history)
	payload := chatCompletionRequest{
		Model:    o.cfg.Model,
		Messages: make([]chatCompletionMessage, 0, len(turns)+1),
	}
	payload.Messages = append(payload.Messages, chatCompletionMessage{Role: "system", Content: systemPrompt})
	for _, msg := range turns {
		payload.Messages = append(payload.Messages, chatCompletionMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", o.cfg.Referer)
	}
	if o.cfg.Title != "" {
		req.Header.Set("X-Title", o.cfg.Title)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &NetworkError{Provider: openRouterProvider, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Provider: openRouterProvider, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ProviderError{
			Provider: openRouterProvider,
			Status:   resp.StatusCode,
			Message:  ExtractErrorMessage(raw),
		}
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &ProviderError{Provider: openRouterProvider, Status: resp.StatusCode, Message: "malformed completion body"}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: openRouterProvider, Status: resp.StatusCode, Message: "empty response"}
	}
	return decoded.Choices[0].Message.Content, nil
}

// ExtractErrorMessage reads {"error":{"message":...}} or {"error":"..."}.
func ExtractErrorMessage(raw []byte) string {
	var nested providerErrorBody
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	return ""
}
