package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/logging"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
)

// Kind is the classified purpose of a user message.
type Kind string

const (
	KindChat          Kind = "chat"
	KindGenerateImage Kind = "generate_image"
	KindFetchNews     Kind = "fetch_news"
)

// ErrParse marks classifier output that could not be understood.
var ErrParse = errors.New("unparseable classifier output")

// Intention is the routing decision for one message.
type Intention struct {
	Kind  Kind   `json:"type"`
	Query string `json:"query"`
}

// Classifier labels user messages using the conversational model and
// falls back to plain chat whenever anything goes wrong.
type Classifier struct {
	completer ai.Completer
	log       *zap.Logger
}

// NewClassifier creates a classifier. A nil completer always yields chat.
func NewClassifier(completer ai.Completer, logger *zap.Logger) *Classifier {
	return &Classifier{completer: completer, log: logging.OrNop(logger).Named("intent")}
}

// Classify never fails: the fallback is {chat, text}.
func (c *Classifier) Classify(ctx context.Context, text string) Intention {
	fallback := Intention{Kind: KindChat, Query: text}
	if c == nil || c.completer == nil || strings.TrimSpace(text) == "" {
		return fallback
	}

	prompt := []chat.Message{{Role: chat.RoleUser, Content: text, Timestamp: time.Now().UTC()}}
	raw, err := c.completer.Complete(ctx, prompt, classifierSystemPrompt)
	if err != nil {
		c.log.Debug("classifier invoke failed, use chat", zap.Error(err))
		return fallback
	}

	result, err := parseClassifierOutput(raw)
	if err != nil {
		c.log.Debug("classifier output parse failed, use chat", zap.Error(err))
		return fallback
	}

	switch result.Kind {
	case KindChat, KindGenerateImage, KindFetchNews:
	default:
		return fallback
	}

	if strings.TrimSpace(result.Query) == "" {
		result.Query = text
	}
	return result
}

// parseClassifierOutput strips markdown fences and decodes the outermost
// JSON object.
func parseClassifierOutput(content string) (Intention, error) {
	trimmed := stripCodeFence(strings.TrimSpace(content))
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return Intention{}, fmt.Errorf("%w: missing json object", ErrParse)
	}

	var payload struct {
		Type  string `json:"type"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return Intention{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return Intention{
		Kind:  Kind(strings.ToLower(strings.TrimSpace(payload.Type))),
		Query: strings.TrimSpace(payload.Query),
	}, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

const classifierSystemPrompt = `You are an intent classifier for a personal companion chat app.
Classify the user's message into exactly one of these types:
- "generate_image": the user wants a picture, drawing, photo or image created.
- "fetch_news": the user asks for news, headlines or current events.
- "chat": anything else.
Also produce "query": for generate_image a clear English image prompt, for fetch_news a short search topic, for chat the original message.
Respond with ONLY a JSON object like {"type":"chat","query":"..."}. No markdown, no explanation.`
