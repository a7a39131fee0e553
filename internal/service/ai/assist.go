package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/model/news"
)

const titleInstruction = "Generate a very short title (maximum 5 words) for this conversation. " +
	"Reply with the title only: no quotation marks, no prefix such as \"Title:\", no punctuation at the end."

const maxTitleRunes = 60

// ProposeTitle asks the completer for a short conversation title. The second
// result is false when no usable title was produced.
func ProposeTitle(ctx context.Context, c Completer, messages []chat.Message) (string, bool) {
	if c == nil || len(messages) == 0 {
		return "", false
	}

	var transcript strings.Builder
	for _, msg := range conversationTurns(messages) {
		transcript.WriteString(string(msg.Role))
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}
	if transcript.Len() == 0 {
		return "", false
	}

	prompt := []chat.Message{{
		Role:      chat.RoleUser,
		Content:   transcript.String(),
		Timestamp: time.Now().UTC(),
	}}

	raw, err := c.Complete(ctx, prompt, titleInstruction)
	if err != nil {
		return "", false
	}

	title := CleanTitle(raw)
	return title, title != ""
}

// CleanTitle strips quotes, a "Title:" prefix and surrounding whitespace.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if lower := strings.ToLower(title); strings.HasPrefix(lower, "title:") {
		title = title[len("title:"):]
	}
	title = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '“', '”', '‘', '’', '`':
			return -1
		}
		return r
	}, title)
	title = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(title), ".!"))

	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}

// SummarizeNews narrates articles in the persona's voice.
func SummarizeNews(ctx context.Context, c Completer, articles []news.Article, personaPrompt, request string) (string, error) {
	if c == nil {
		return "", credentialError("summary")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user asked: %q\n\nHere are the latest headlines:\n", request)
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, a.Title, a.Source)
		if desc := strings.TrimSpace(a.Description); desc != "" {
			fmt.Fprintf(&b, "   %s\n", desc)
		}
	}
	b.WriteString("\nSummarize these updates for your partner in a short, warm message, staying fully in character.")

	system := personaPrompt + "\n\nYou are sharing today's news with your partner."
	prompt := []chat.Message{{Role: chat.RoleUser, Content: b.String(), Timestamp: time.Now().UTC()}}
	return c.Complete(ctx, prompt, system)
}

// HeadlineDigest is the plain listing used when no summary can be produced.
func HeadlineDigest(articles []news.Article) string {
	if len(articles) == 0 {
		return "Abhi koi nayi khabar nahi mili baby. Thodi der baad phir se try karte hain?"
	}

	var b strings.Builder
	b.WriteString("Ye rahi aaj ki kuch khabrein:\n")
	for _, a := range articles {
		fmt.Fprintf(&b, "• %s", a.Title)
		if a.Source != "" {
			fmt.Fprintf(&b, " (%s)", a.Source)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
