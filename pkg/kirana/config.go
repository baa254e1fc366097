package kirana

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Agent         AgentConfig         `mapstructure:"agent"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Session       SessionConfig       `mapstructure:"session"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

// AgentConfig identifies the conversational agent endpoint.
type AgentConfig struct {
	ID                string `mapstructure:"id"`
	APIBase           string `mapstructure:"api_base"`
	APIKey            string `mapstructure:"api_key"`
	SignedURLEndpoint string `mapstructure:"signed_url_endpoint"`
}

type TurnConfig struct {
	SilenceTimeoutMS int `mapstructure:"silence_timeout_ms"`
	MinUtteranceLen  int `mapstructure:"min_utterance_len"`
}

type SessionConfig struct {
	ReconnectDelayMS     int `mapstructure:"reconnect_delay_ms"`
	ReconnectMaxAttempts int `mapstructure:"reconnect_max_attempts"`
}

type PlaybackConfig struct {
	SampleRate int     `mapstructure:"sample_rate"`
	GapMS      int     `mapstructure:"gap_ms"`
	FadeInMS   int     `mapstructure:"fade_in_ms"`
	FadeOutTo  float64 `mapstructure:"fade_out_to"`
	Buffer     int     `mapstructure:"buffer"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Recognizer VendorConfig `mapstructure:"recognizer"`
	Player     VendorConfig `mapstructure:"player"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
	LogSampleRate float64 `mapstructure:"log_sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("agent.api_base", "https://api.elevenlabs.io")
	v.SetDefault("agent.signed_url_endpoint", "/api/signed-url")
	v.SetDefault("turn.silence_timeout_ms", 1500)
	v.SetDefault("turn.min_utterance_len", 3)
	v.SetDefault("session.reconnect_delay_ms", 3000)
	v.SetDefault("session.reconnect_max_attempts", 0)
	v.SetDefault("playback.sample_rate", 16000)
	v.SetDefault("playback.gap_ms", 10)
	v.SetDefault("playback.fade_in_ms", 50)
	v.SetDefault("playback.fade_out_to", 0.7)
	v.SetDefault("playback.buffer", 256)
	v.SetDefault("vendors.player.provider", "mock")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.log_sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.ID) == "" {
		return fmt.Errorf("agent.id is required")
	}
	if strings.TrimSpace(c.Vendors.Recognizer.Provider) == "" {
		return fmt.Errorf("vendors.recognizer.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Player.Provider) == "" {
		return fmt.Errorf("vendors.player.provider is required")
	}
	return nil
}

// expandEnvStrings substitutes ${VAR} references so secrets stay out of
// config files.
func expandEnvStrings(cfg *Config) {
	cfg.Agent.ID = os.ExpandEnv(cfg.Agent.ID)
	cfg.Agent.APIBase = os.ExpandEnv(cfg.Agent.APIBase)
	cfg.Agent.APIKey = os.ExpandEnv(cfg.Agent.APIKey)
	cfg.Agent.SignedURLEndpoint = os.ExpandEnv(cfg.Agent.SignedURLEndpoint)
	cfg.Observability.ArtifactsDir = os.ExpandEnv(cfg.Observability.ArtifactsDir)
	cfg.Vendors.Recognizer.Settings = expandSettings(cfg.Vendors.Recognizer.Settings)
	cfg.Vendors.Player.Settings = expandSettings(cfg.Vendors.Player.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
