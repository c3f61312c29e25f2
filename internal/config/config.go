// Package config loads process configuration from the environment and the
// agent/tool configuration file.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

const namespace = "TRIPSAGE"

// Config holds all configuration for the TripSage agent service.
type Config struct {
	ServerConfig
	ModelConfig
	ProviderConfig
	Telemetry TelemetryConfig `envconfig:"OTEL"`
}

type ServerConfig struct {
	Port        int      `envconfig:"PORT" default:"8080"`
	Version     string   `envconfig:"VERSION" default:"0.1.0"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool     `envconfig:"LOG_PRETTY" default:"true"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	// APIKeys enables bearer/X-API-Key auth on /api routes when non-empty.
	APIKeys []string `envconfig:"API_KEYS"`

	// ConfigFile is the YAML agent/tool configuration. Optional.
	ConfigFile string `envconfig:"CONFIG_FILE" default:"tripsage.yaml"`

	// DatabaseURL selects the PostgreSQL record store; empty keeps everything in memory.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// SweepSchedule is the cron spec for the retention sweeper.
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"@every 5m"`

	// ApprovalWebhookURL receives approval events; empty disables delivery.
	ApprovalWebhookURL    string `envconfig:"APPROVAL_WEBHOOK_URL"`
	ApprovalWebhookSecret string `envconfig:"APPROVAL_WEBHOOK_SECRET"`
}

type ModelConfig struct {
	ModelBaseURL   string   `envconfig:"MODEL_BASE_URL" default:"https://api.openai.com/v1"`
	ModelAPIKey    string   `envconfig:"MODEL_API_KEY"`
	ModelID        string   `envconfig:"MODEL_ID" default:"gpt-4o-mini"`
	RepairModelID  string   `envconfig:"REPAIR_MODEL_ID"`
	FallbackModels []string `envconfig:"FALLBACK_MODELS"`
	ModelAzure     bool     `envconfig:"MODEL_AZURE" default:"false"`
}

// ProviderConfig holds endpoints and keys of the external tool providers.
// A provider with an empty key reports *_not_configured when called.
type ProviderConfig struct {
	WebSearchURL string `envconfig:"WEB_SEARCH_URL" default:"https://api.tavily.com"`
	WebSearchKey string `envconfig:"WEB_SEARCH_KEY"`

	FlightsURL string `envconfig:"FLIGHTS_URL"`
	FlightsKey string `envconfig:"FLIGHTS_KEY"`

	AccommodationsURL string `envconfig:"ACCOMMODATIONS_URL"`
	AccommodationsKey string `envconfig:"ACCOMMODATIONS_KEY"`

	WeatherURL string `envconfig:"WEATHER_URL" default:"https://api.openweathermap.org/data/2.5"`
	WeatherKey string `envconfig:"WEATHER_KEY"`

	MapsURL string `envconfig:"MAPS_URL" default:"https://maps.googleapis.com/maps/api"`
	MapsKey string `envconfig:"MAPS_KEY"`

	AdvisoryURL string `envconfig:"ADVISORY_URL"`
	AdvisoryKey string `envconfig:"ADVISORY_KEY"`
}

type TelemetryConfig struct {
	Enabled      bool    `envconfig:"ENABLED" default:"false"`
	OTLPEndpoint string  `envconfig:"ENDPOINT" default:"localhost:4317"`
	ServiceName  string  `envconfig:"SERVICE_NAME" default:"tripsage-agents"`
	SampleRatio  float64 `envconfig:"SAMPLE_RATIO" default:"1"`
}

// Load reads configuration from the environment, after loading .env files
// when present. Existing environment variables win over .env entries.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envconfig.Process(namespace, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &cfg, nil
}

// ZerologLevel parses LogLevel, defaulting to info.
func (c *ServerConfig) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
