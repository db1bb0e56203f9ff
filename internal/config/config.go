package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the extractor.
type Config struct {
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	LocalLLM LocalLLMConfig `mapstructure:"local_llm"`
	RunLog   RunLogConfig   `mapstructure:"run_log"`
}

// GeminiConfig holds the Gemini Vision extractor configuration.
type GeminiConfig struct {
	// APIKeys is the credential pool for the key rotation manager.
	// An empty pool disables the Gemini strategy and forces the
	// offline pipeline (EasyOCR + local LLM).
	APIKeys []string `mapstructure:"api_keys"`

	Model string `mapstructure:"model"`

	// CooldownSeconds is how long a rate-limited key is quarantined.
	CooldownSeconds int `mapstructure:"cooldown_seconds"`

	// CostPerCallUSD is the fixed per-call charge attributed to a
	// successful Gemini extraction.
	CostPerCallUSD float64 `mapstructure:"cost_per_call_usd"`
}

// Cooldown returns the key quarantine window as a duration.
func (c GeminiConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// OCRConfig holds the EasyOCR sidecar configuration.
type OCRConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Languages      []string `mapstructure:"languages"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// LocalLLMConfig holds the llama.cpp server configuration used for
// post-processing OCR text.
type LocalLLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RunLogConfig holds the optional BigQuery run history configuration.
// The run log is disabled unless a project is configured.
type RunLogConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
	Table     string `mapstructure:"table"`
}

// Enabled reports whether extraction runs should be recorded to BigQuery.
func (c RunLogConfig) Enabled() bool {
	return c.ProjectID != ""
}

// Load reads configuration from the environment (IDFC_ prefix) and an
// optional config/extractor.yaml file.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("IDFC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("extractor")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/idfc")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// IDFC_GEMINI_API_KEYS is a comma-separated list when set via env;
	// normalize entries either way.
	cfg.Gemini.APIKeys = normalizeKeys(cfg.Gemini.APIKeys)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gemini.api_keys", []string{})
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.cooldown_seconds", 60)
	v.SetDefault("gemini.cost_per_call_usd", 0.0003)

	v.SetDefault("ocr.base_url", "http://localhost:8866")
	v.SetDefault("ocr.languages", []string{"en", "hi"})
	v.SetDefault("ocr.timeout_seconds", 120)

	v.SetDefault("local_llm.base_url", "http://localhost:8080")
	v.SetDefault("local_llm.model", "local")
	v.SetDefault("local_llm.timeout_seconds", 120)

	v.SetDefault("run_log.project_id", "")
	v.SetDefault("run_log.dataset", "extraction")
	v.SetDefault("run_log.table", "runs")
}

func normalizeKeys(entries []string) []string {
	var keys []string
	for _, entry := range entries {
		for _, p := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
	}
	return keys
}
