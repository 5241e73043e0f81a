package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, loaded once at startup.
type Config struct {
	// Platform
	DiscordBotToken string
	DevGuildID      string
	Env             string

	// Durable storage
	DBPath       string
	SettingsPath string

	// Web control plane
	WebUIEnabled bool
	WebHost      string
	WebPort      int
	WebUIToken   string

	// Logging
	LogLevel      string
	LogFilePath   string
	WebLogMaxLines int

	// Queue / playback
	QueueMaxSize            int
	DropPolicy              string
	CoalesceMS              int
	CoalesceSameSpeakerOnly bool
	MaxMessageChars         int
	MaxUtteranceChars       int
	UserCooldownSeconds     float64
	MaxAudioSeconds         float64
	MaxRetries              int
	StuckSeconds            float64
	TTSHTTPTimeout          time.Duration
	AllowlistTextChannelIDs []int64

	// External generators (opaque per spec.md §1)
	OpenAIAPIKey string
}

// Load reads configuration from the environment, preferring a local
// .env file for values not already set (mirrors the teacher's
// godotenv.Load()+getEnv pattern).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DiscordBotToken: getEnv("DISCORD_TOKEN", ""),
		DevGuildID:      getEnv("DEV_GUILD_ID", ""),
		Env:             getEnv("ENV", "development"),

		DBPath:       getEnv("DB_PATH", "data/tts.db"),
		SettingsPath: getEnv("SETTINGS_PATH", "settings.json"),

		WebUIEnabled: getEnvAsBool("WEB_UI_ENABLED", true),
		WebHost:      getEnv("WEB_HOST", "127.0.0.1"),
		WebPort:      getEnvAsInt("WEB_PORT", 8080),
		WebUIToken:   getEnv("WEB_UI_TOKEN", ""),

		LogLevel:       strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		LogFilePath:    getEnv("LOG_FILE_PATH", ""),
		WebLogMaxLines: getEnvAsInt("WEB_LOG_MAX_LINES", 1000),

		QueueMaxSize:            getEnvAsInt("QUEUE_MAXSIZE", 100),
		DropPolicy:              strings.ToLower(getEnv("DROP_POLICY", "drop_oldest")),
		CoalesceMS:              getEnvAsInt("COALESCE_MS", 500),
		CoalesceSameSpeakerOnly: getEnvAsBool("COALESCE_SAME_SPEAKER_ONLY", true),
		MaxMessageChars:         getEnvAsInt("MAX_MESSAGE_CHARS", 350),
		MaxUtteranceChars:       getEnvAsInt("MAX_UTTERANCE_CHARS", 1000),
		UserCooldownSeconds:     getEnvAsFloat("USER_COOLDOWN_SECONDS", 1.5),
		MaxAudioSeconds:         getEnvAsFloat("MAX_AUDIO_SECONDS", 20.0),
		MaxRetries:              getEnvAsInt("MAX_RETRIES", 2),
		StuckSeconds:            getEnvAsFloat("STUCK_SECONDS", 45.0),
		TTSHTTPTimeout:          time.Duration(getEnvAsFloat("TTS_HTTP_TIMEOUT", 20.0) * float64(time.Second)),
		AllowlistTextChannelIDs: getEnvAsInt64Slice("ALLOWLIST_TEXT_CHANNEL_IDS"),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.DropPolicy != "drop_oldest" && c.DropPolicy != "reject" {
		return fmt.Errorf("DROP_POLICY must be drop_oldest or reject, got %q", c.DropPolicy)
	}
	if c.QueueMaxSize <= 0 {
		return fmt.Errorf("QUEUE_MAXSIZE must be positive")
	}
	if c.WebPort <= 0 || c.WebPort > 65535 {
		return fmt.Errorf("WEB_PORT out of range: %d", c.WebPort)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return defaultValue
}

func getEnvAsInt64Slice(key string) []int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
