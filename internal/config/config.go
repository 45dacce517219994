package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	AIProvider             string
	AIVisionProvider       string
	OpenAIAPIKey           string
	OpenAIModel            string
	GeminiAPIKey           string
	GeminiModel            string
	GradingWorkers         int
	GradingTaskTimeout     time.Duration
	GradingBatchTimeout    time.Duration
	ExtractFetchTimeout    time.Duration
	ExtractMaxDocumentMB   int
	RubricAllowedHosts     []string
	NATSURL                string
	NATSSubject            string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cloudinary.folder", "gema/submissions")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("grading.workers", 4)
	v.SetDefault("grading.task_timeout", "2m")
	v.SetDefault("grading.batch_timeout", "30m")
	v.SetDefault("extract.fetch_timeout", "30s")
	v.SetDefault("extract.max_document_mb", 20)
	v.SetDefault("rubric.allowed_hosts", "res.cloudinary.com")
	v.SetDefault("nats.subject", "grading.submission.settled")

	taskTimeout, err := parseDuration(v, "grading.task_timeout")
	if err != nil {
		return Config{}, err
	}
	batchTimeout, err := parseDuration(v, "grading.batch_timeout")
	if err != nil {
		return Config{}, err
	}
	fetchTimeout, err := parseDuration(v, "extract.fetch_timeout")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		AIProvider:             strings.ToLower(v.GetString("ai.provider")),
		AIVisionProvider:       strings.ToLower(v.GetString("ai.vision_provider")),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		OpenAIModel:            v.GetString("openai.model"),
		GeminiAPIKey:           v.GetString("gemini_api_key"),
		GeminiModel:            v.GetString("gemini.model"),
		GradingWorkers:         v.GetInt("grading.workers"),
		GradingTaskTimeout:     taskTimeout,
		GradingBatchTimeout:    batchTimeout,
		ExtractFetchTimeout:    fetchTimeout,
		ExtractMaxDocumentMB:   v.GetInt("extract.max_document_mb"),
		RubricAllowedHosts:     splitList(v.GetString("rubric.allowed_hosts")),
		NATSURL:                v.GetString("nats.url"),
		NATSSubject:            v.GetString("nats.subject"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.AIVisionProvider == "" {
		cfg.AIVisionProvider = cfg.AIProvider
	}

	switch cfg.AIProvider {
	case "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("unsupported ai provider %q", cfg.AIProvider)
	}

	if cfg.GradingWorkers <= 0 {
		cfg.GradingWorkers = 4
	}

	if cfg.ExtractMaxDocumentMB <= 0 {
		cfg.ExtractMaxDocumentMB = 20
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, strings.ToLower(trimmed))
		}
	}
	return values
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	value, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return value, nil
}
