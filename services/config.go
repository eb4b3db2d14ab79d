package services

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Groq      GroqConfig
	Council   CouncilConfig
	Auth      AuthConfig
	WebSocket WebSocketConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	URL          string
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
}

type CouncilConfig struct {
	Models        []string
	Synthesizer   string
	TitleModel    string
	ContextWindow int
	CallTimeout   time.Duration
	MaxTokens     int
	Temperature   float32
	SelfRanking   bool
}

type AuthConfig struct {
	Secret       string
	PasswordHash string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("groq.api_key", "")
	viper.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("council.models", "llama-3.1-8b-instant,llama-3.3-70b-versatile,openai/gpt-oss-120b,openai/gpt-oss-20b")
	viper.SetDefault("council.synthesizer", "llama-3.3-70b-versatile")
	viper.SetDefault("council.title_model", "groq/compound-mini")
	viper.SetDefault("council.context_window", "6")
	viper.SetDefault("council.call_timeout", "120s")
	viper.SetDefault("council.max_tokens", "2048")
	viper.SetDefault("council.temperature", "0.7")
	viper.SetDefault("council.self_ranking", "true")
	viper.SetDefault("auth.secret", "")
	viper.SetDefault("auth.password_hash", "")
	viper.SetDefault("websocket.allowed_origins", "")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("groq.api_key", "GROQ_API_KEY")
	viper.BindEnv("groq.base_url", "GROQ_BASE_URL")
	viper.BindEnv("council.models", "COUNCIL_MODELS")
	viper.BindEnv("council.synthesizer", "COUNCIL_SYNTHESIZER")
	viper.BindEnv("council.title_model", "COUNCIL_TITLE_MODEL")
	viper.BindEnv("council.context_window", "COUNCIL_CONTEXT_WINDOW")
	viper.BindEnv("council.call_timeout", "COUNCIL_CALL_TIMEOUT")
	viper.BindEnv("council.max_tokens", "COUNCIL_MAX_TOKENS")
	viper.BindEnv("council.temperature", "COUNCIL_TEMPERATURE")
	viper.BindEnv("council.self_ranking", "COUNCIL_SELF_RANKING")
	viper.BindEnv("auth.secret", "JWT_SECRET")
	viper.BindEnv("auth.password_hash", "AUTH_PASSWORD_HASH")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		Groq: GroqConfig{
			APIKey:  viper.GetString("groq.api_key"),
			BaseURL: viper.GetString("groq.base_url"),
		},
		Council: CouncilConfig{
			Models:        splitModels(viper.GetString("council.models")),
			Synthesizer:   viper.GetString("council.synthesizer"),
			TitleModel:    viper.GetString("council.title_model"),
			ContextWindow: viper.GetInt("council.context_window"),
			CallTimeout:   viper.GetDuration("council.call_timeout"),
			MaxTokens:     viper.GetInt("council.max_tokens"),
			Temperature:   float32(viper.GetFloat64("council.temperature")),
			SelfRanking:   viper.GetBool("council.self_ranking"),
		},
		Auth: AuthConfig{
			Secret:       viper.GetString("auth.secret"),
			PasswordHash: viper.GetString("auth.password_hash"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
	}
}

func splitModels(s string) []string {
	parts := strings.Split(s, ",")
	models := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			models = append(models, p)
		}
	}
	return models
}
