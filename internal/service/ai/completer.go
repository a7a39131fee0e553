package ai

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/logging"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

// Completer produces the next assistant turn for a conversation.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, systemPrompt string) (string, error)
}

// KeyFunc resolves an API key at call time, so settings edits apply without
// rebuilding clients.
type KeyFunc func() string

// Chain tries each completer in order and returns the first success.
type Chain struct {
	members []namedCompleter
	log     *zap.Logger
}

type namedCompleter struct {
	name string
	c    Completer
}

// NewChain builds an empty fallback chain.
func NewChain(logger *zap.Logger) *Chain {
	return &Chain{log: logging.OrNop(logger).Named("ai")}
}

// Add appends a completer to the chain and returns the chain.
func (c *Chain) Add(name string, completer Completer) *Chain {
	if completer != nil {
		c.members = append(c.members, namedCompleter{name: name, c: completer})
	}
	return c
}

// Len is the number of configured completers.
func (c *Chain) Len() int {
	return len(c.members)
}

// Complete implements Completer. ErrCredentialMissing is only reported when
// no member had credentials; otherwise the last real failure is returned.
func (c *Chain) Complete(ctx context.Context, history []chat.Message, systemPrompt string) (string, error) {
	if len(c.members) == 0 {
		return "", credentialError("chain")
	}

	var lastErr error
	for i, m := range c.members {
		text, err := m.c.Complete(ctx, history, systemPrompt)
		if err == nil {
			if i > 0 {
				c.log.Info("fallback completer succeeded", zap.String("provider", m.name))
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if IsCredentialMissing(err) {
			c.log.Debug("completer skipped, no credentials", zap.String("provider", m.name))
		} else {
			c.log.Warn("completer failed, attempting fallback", zap.String("provider", m.name), zap.Error(err))
			lastErr = err
		}
	}

	if lastErr == nil {
		return "", credentialError("chain")
	}
	return "", lastErr
}

// Retrying re-issues a completion once when the first attempt hit a
// transport failure.
type Retrying struct {
	Completer
}

// Complete implements Completer.
func (r Retrying) Complete(ctx context.Context, history []chat.Message, systemPrompt string) (string, error) {
	text, err := r.Completer.Complete(ctx, history, systemPrompt)
	var netErr *NetworkError
	if err == nil || !errors.As(err, &netErr) || ctx.Err() != nil {
		return text, err
	}
	return r.Completer.Complete(ctx, history, systemPrompt)
}

// conversationTurns keeps the user and assistant turns that a provider
// should see. Injected system notices are UI-only.
func conversationTurns(history []chat.Message) []chat.Message {
	turns := make([]chat.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role != chat.RoleUser && msg.Role != chat.RoleAssistant {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		turns = append(turns, msg)
	}
	return turns
}
