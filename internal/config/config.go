package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	AI      AIConfig
	Image   ImageConfig
	News    NewsConfig
	Keys    Keys
}

// Load 先读取可选的 YAML 文件，再用环境变量覆盖。path 为空时读取 SERENITY_CONFIG。
func Load(path string) (*Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv("SERENITY_CONFIG"))
	}

	file, err := readFile(path)
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(file.Server)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(file.AI)
	if err != nil {
		return nil, err
	}

	image, err := loadImageConfig(file.Image)
	if err != nil {
		return nil, err
	}

	news, err := loadNewsConfig(file.News)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Storage: loadStorageConfig(file.Storage),
		AI:      ai,
		Image:   image,
		News:    news,
		Keys:    loadKeys(),
	}, nil
}

// fileConfig 是 YAML 配置文件的结构，所有字段可选。
type fileConfig struct {
	Server  serverFile  `yaml:"server"`
	Storage storageFile `yaml:"storage"`
	AI      aiFile      `yaml:"ai"`
	Image   imageFile   `yaml:"image"`
	News    newsFile    `yaml:"news"`
}

type serverFile struct {
	Addr string `yaml:"addr"`
}

type storageFile struct {
	Path string `yaml:"path"`
}

type aiFile struct {
	OpenRouterURL   string `yaml:"openrouter_url"`
	OpenRouterModel string `yaml:"openrouter_model"`
	Referer         string `yaml:"referer"`
	AppTitle        string `yaml:"app_title"`
	GeminiModel     string `yaml:"gemini_model"`
	ArkModel        string `yaml:"ark_model"`
	ArkBaseURL      string `yaml:"ark_base_url"`
	ArkRegion       string `yaml:"ark_region"`
	Timeout         string `yaml:"timeout"`
}

type imageFile struct {
	URL         string `yaml:"url"`
	Model       string `yaml:"model"`
	MinInterval string `yaml:"min_interval"`
	Timeout     string `yaml:"timeout"`
}

type newsFile struct {
	URL          string `yaml:"url"`
	Language     string `yaml:"language"`
	Max          int    `yaml:"max"`
	DefaultQuery string `yaml:"default_query"`
	Timeout      string `yaml:"timeout"`
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(fc serverFile) (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = strings.TrimSpace(fc.Addr)
	}
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StorageConfig 描述本地持久化位置。
type StorageConfig struct {
	Path string
}

func loadStorageConfig(fc storageFile) StorageConfig {
	return StorageConfig{Path: getEnvOrDefault("SERENITY_DB_PATH", orDefault(fc.Path, "data/serenity.db"))}
}

// AIConfig 描述对话模型相关配置。
type AIConfig struct {
	OpenRouterURL   string
	OpenRouterModel string
	Referer         string
	AppTitle        string
	GeminiModel     string
	Timeout         time.Duration

	// Ark (火山方舟) 作为最后一级回退。
	ArkAPIKey      string
	ArkAccessKey   string
	ArkSecretKey   string
	ArkModel       string
	ArkBaseURL     string
	ArkRegion      string
	ArkTemperature *float64
	ArkMaxTokens   *int
}

// ArkEnabled 表示是否提供了 Ark 所需的密钥与模型。
func (c AIConfig) ArkEnabled() bool {
	return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewArkChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.ArkTemperature != nil {
		val := float32(*c.ArkTemperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   c.ArkMaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(fc aiFile) (AIConfig, error) {
	timeout, err := parseDurationEnv("AI_TIMEOUT", orDefault(fc.Timeout, "60s"))
	if err != nil {
		return AIConfig{}, err
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		OpenRouterURL:   getEnvOrDefault("OPENROUTER_URL", orDefault(fc.OpenRouterURL, "https://openrouter.ai/api/v1/chat/completions")),
		OpenRouterModel: getEnvOrDefault("OPENROUTER_MODEL", orDefault(fc.OpenRouterModel, "openai/gpt-3.5-turbo")),
		Referer:         getEnvOrDefault("OPENROUTER_REFERER", orDefault(fc.Referer, "http://localhost:8080")),
		AppTitle:        getEnvOrDefault("OPENROUTER_TITLE", orDefault(fc.AppTitle, "Serenity Personal AI")),
		GeminiModel:     getEnvOrDefault("GEMINI_MODEL", orDefault(fc.GeminiModel, "gemini-2.5-flash")),
		Timeout:         timeout,
		ArkAPIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:        getEnvOrDefault("ARK_MODEL", fc.ArkModel),
		ArkBaseURL:      getEnvOrDefault("ARK_BASE_URL", orDefault(fc.ArkBaseURL, "https://ark.cn-beijing.volces.com/api/v3")),
		ArkRegion:       getEnvOrDefault("ARK_REGION", orDefault(fc.ArkRegion, "cn-beijing")),
		ArkTemperature:  temperature,
		ArkMaxTokens:    maxTokens,
	}, nil
}

// ImageConfig 描述图像生成服务配置。
type ImageConfig struct {
	URL         string
	Model       string
	MinInterval time.Duration
	Timeout     time.Duration
}

// Endpoint 返回模型推理地址。
func (c ImageConfig) Endpoint() string {
	return strings.TrimRight(c.URL, "/") + "/" + strings.TrimLeft(c.Model, "/")
}

func loadImageConfig(fc imageFile) (ImageConfig, error) {
	interval, err := parseDurationEnv("IMAGE_MIN_INTERVAL", orDefault(fc.MinInterval, "2s"))
	if err != nil {
		return ImageConfig{}, err
	}
	timeout, err := parseDurationEnv("IMAGE_TIMEOUT", orDefault(fc.Timeout, "120s"))
	if err != nil {
		return ImageConfig{}, err
	}

	return ImageConfig{
		URL:         getEnvOrDefault("IMAGE_API_URL", orDefault(fc.URL, "https://api-inference.huggingface.co/models")),
		Model:       getEnvOrDefault("IMAGE_MODEL", orDefault(fc.Model, "black-forest-labs/FLUX.1-dev")),
		MinInterval: interval,
		Timeout:     timeout,
	}, nil
}

// NewsConfig 描述新闻检索服务配置。
type NewsConfig struct {
	URL          string
	Language     string
	Max          int
	DefaultQuery string
	Timeout      time.Duration
}

func loadNewsConfig(fc newsFile) (NewsConfig, error) {
	timeout, err := parseDurationEnv("NEWS_TIMEOUT", orDefault(fc.Timeout, "15s"))
	if err != nil {
		return NewsConfig{}, err
	}

	max := 5
	if fc.Max > 0 {
		max = fc.Max
	}
	if override, err := parseOptionalIntEnv("NEWS_MAX"); err != nil {
		return NewsConfig{}, err
	} else if override != nil && *override > 0 {
		max = *override
	}

	return NewsConfig{
		URL:          getEnvOrDefault("NEWS_API_URL", orDefault(fc.URL, "https://gnews.io/api/v4/search")),
		Language:     getEnvOrDefault("NEWS_LANGUAGE", orDefault(fc.Language, "en")),
		Max:          max,
		DefaultQuery: getEnvOrDefault("NEWS_DEFAULT_QUERY", orDefault(fc.DefaultQuery, "technology")),
		Timeout:      timeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func orDefault(value, defaultValue string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return defaultValue
}

func parseDurationEnv(key, defaultValue string) (time.Duration, error) {
	raw := getEnvOrDefault(key, defaultValue)
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
