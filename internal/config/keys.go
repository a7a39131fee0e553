package config

import (
	"os"
	"strings"

	"github.com/zhouzirui/serenity/backend/internal/model/settings"
)

// Keys 保存部署环境中的 API 密钥。每个服务先读主变量名，再读备用变量名。
type Keys struct {
	OpenRouter  string
	HuggingFace string
	GNews       string
	Gemini      string
}

func loadKeys() Keys {
	return Keys{
		OpenRouter:  firstEnv("OPENROUTER_API", "OPENROUTER_API_KEY"),
		HuggingFace: firstEnv("HUGGINGFACE_API_KEY", "HF_TOKEN"),
		GNews:       firstEnv("GNEWS_API_KEY", "GNEWS_TOKEN"),
		Gemini:      firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
	}
}

// OpenRouterKey 环境变量优先，其次是用户在设置里填写的密钥。
func (k Keys) OpenRouterKey(s settings.AppSettings) string {
	return firstNonEmpty(k.OpenRouter, s.KeyOpenRouter)
}

// HuggingFaceKey 同 OpenRouterKey。
func (k Keys) HuggingFaceKey(s settings.AppSettings) string {
	return firstNonEmpty(k.HuggingFace, s.KeyHuggingFace)
}

// GNewsKey 同 OpenRouterKey。
func (k Keys) GNewsKey(s settings.AppSettings) string {
	return firstNonEmpty(k.GNews, s.KeyGNews)
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
