package chat

import (
	"time"

	"github.com/zhouzirui/serenity/backend/internal/model/news"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one immutable turn inside a session.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	ImageID   string         `json:"imageId,omitempty"`
	News      []news.Article `json:"news,omitempty"`
}
