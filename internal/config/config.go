package config

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Supported dialogue engine providers.
const (
	ProviderArk      = "ark"
	ProviderScripted = "scripted"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Auth   AuthConfig
	WS     WSConfig
	AI     AIConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config

	groups := []struct {
		prefix string
		target any
	}{
		{"", &cfg.Server},
		{"AUTH", &cfg.Auth},
		{"WS", &cfg.WS},
		{"", &cfg.AI},
		{"LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return nil, errors.Wrap(err, "process environment")
		}
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if cfg.AI.HistoryLimit < 0 {
		cfg.AI.HistoryLimit = 0
	}
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = ProviderArk
	}
	if cfg.AI.Provider != ProviderArk && cfg.AI.Provider != ProviderScripted {
		return nil, errors.Errorf("invalid AI_PROVIDER value: %q", cfg.AI.Provider)
	}

	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"8000"`
	StaticDir      string   `envconfig:"STATIC_DIR"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:4200,http://localhost:8000"`

	// Addr is derived from Port.
	Addr string `ignored:"true"`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", errors.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AuthConfig holds the shared login secret and where issued tokens live.
type AuthConfig struct {
	Password string `envconfig:"PASSWORD"`
	// PasswordParam names an SSM parameter holding the secret. Used when Password is empty.
	PasswordParam string `envconfig:"PASSWORD_PARAM"`
	TokenFile     string `envconfig:"TOKEN_FILE" default:"tokens.json"`
}

// WSConfig tunes the /ws subscriber connections.
type WSConfig struct {
	AuthTimeout  time.Duration `envconfig:"AUTH_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider         string   `envconfig:"AI_PROVIDER"`
	SystemPromptFile string   `envconfig:"AI_SYSTEM_PROMPT_FILE"`
	HistoryLimit     int      `envconfig:"AI_HISTORY_LIMIT" default:"0"`
	APIKey           string   `envconfig:"ARK_API_KEY"`
	AccessKey        string   `envconfig:"ARK_ACCESS_KEY"`
	SecretKey        string   `envconfig:"ARK_SECRET_KEY"`
	Model            string   `envconfig:"ARK_MODEL"`
	BaseURL          string   `envconfig:"ARK_BASE_URL" default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region           string   `envconfig:"ARK_REGION" default:"cn-beijing"`
	Temperature      *float64 `envconfig:"ARK_TEMPERATURE"`
	TopP             *float64 `envconfig:"ARK_TOP_P"`
	MaxTokens        *int     `envconfig:"ARK_MAX_TOKENS"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}
