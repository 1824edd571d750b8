// Package config loads relay configuration. Defaults are overlaid with an
// optional YAML file named by CONFIG_FILE and then with environment
// variables, and the result is validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"meeting-translation-relay/internal/events"
	"meeting-translation-relay/internal/service/chunklog"
	"meeting-translation-relay/internal/service/translog"
	"meeting-translation-relay/internal/service/upstream/openai"
	"meeting-translation-relay/internal/store"
)

type Config struct {
	Service        ServiceConfig       `yaml:"service"`
	Upstream       UpstreamConfig      `yaml:"upstream"`
	Queue          QueueConfig         `yaml:"queue"`
	Store          store.Config        `yaml:"store"`
	Kafka          events.Config       `yaml:"kafka"`
	TranslationLog translog.Config     `yaml:"translationLog"`
	ChunkLog       chunklog.Config     `yaml:"chunkLog"`
	Auth           AuthConfig          `yaml:"auth"`
	Billing        BillingConfig       `yaml:"billing"`
	Observability  ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"httpPort"`
	GRPCPort  string `yaml:"grpcPort"`
	Env       string `yaml:"env"`
}

type UpstreamConfig struct {
	Provider  string           `yaml:"provider"` // openai, google or mock
	OpenAI    OpenAIConfig     `yaml:"openai"`
	Handshake openai.Handshake `yaml:"handshake"`
	Google    GoogleConfig     `yaml:"google"`
	Mock      MockConfig       `yaml:"mock"`
}

type OpenAIConfig struct {
	URL              string        `yaml:"url"`
	Model            string        `yaml:"model"`
	APIKey           string        `yaml:"apiKey"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
}

type GoogleConfig struct {
	LanguageCode   string `yaml:"languageCode"`
	SampleRateHz   int32  `yaml:"sampleRateHz"`
	InterimResults bool   `yaml:"interimResults"`
	AudioEncoding  string `yaml:"audioEncoding"`
}

type MockConfig struct {
	Simulate bool `yaml:"simulate"`
}

type QueueConfig struct {
	MaxDepth   int           `yaml:"maxDepth"` // 0 means unbounded
	DrainPause time.Duration `yaml:"drainPause"`
}

type AuthConfig struct {
	// JWTSecret enables HS256 bearer authentication on the ingest endpoints.
	JWTSecret string `yaml:"jwtSecret"`
}

type BillingConfig struct {
	// StripeKey enables the subscription entitlement check.
	StripeKey string `yaml:"stripeKey"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // json or console
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal: "svc-translation-relay",
			HTTPPort:  "8080",
			GRPCPort:  "50051",
		},
		Upstream: UpstreamConfig{
			Provider: "mock",
			OpenAI: OpenAIConfig{
				URL:              openai.DefaultURL,
				Model:            openai.DefaultModel,
				HandshakeTimeout: 10 * time.Second,
			},
			Handshake: openai.DefaultHandshake(),
			Google: GoogleConfig{
				LanguageCode:   "en-US",
				SampleRateHz:   8000,
				InterimResults: true,
				AudioEncoding:  "LINEAR16",
			},
		},
		Queue: QueueConfig{
			MaxDepth:   2000,
			DrainPause: 10 * time.Millisecond,
		},
		Store: store.Config{
			Driver:   "memory",
			Database: "translation_relay",
		},
		Kafka: events.Config{
			TopicUtterance: events.EventUtteranceCompleted,
			TopicStatus:    events.EventSessionStatus,
		},
		TranslationLog: translog.DefaultConfig(),
		ChunkLog:       chunklog.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides every field that has a matching environment variable.
func (c *Config) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.Env = envOrDefault("ENV", c.Service.Env)

	u := &c.Upstream
	u.Provider = envOrDefault("UPSTREAM_PROVIDER", u.Provider)
	u.OpenAI.URL = envOrDefault("OPENAI_REALTIME_URL", u.OpenAI.URL)
	u.OpenAI.Model = envOrDefault("OPENAI_REALTIME_MODEL", u.OpenAI.Model)
	u.OpenAI.APIKey = envOrDefault("OPENAI_API_KEY", u.OpenAI.APIKey)
	u.OpenAI.HandshakeTimeout = envOrDefaultDuration("UPSTREAM_HANDSHAKE_TIMEOUT", u.OpenAI.HandshakeTimeout)
	u.Handshake.Voice = envOrDefault("HANDSHAKE_VOICE", u.Handshake.Voice)
	u.Handshake.TranscriptionModel = envOrDefault("HANDSHAKE_TRANSCRIPTION_MODEL", u.Handshake.TranscriptionModel)
	u.Handshake.VADThreshold = envOrDefaultFloat("HANDSHAKE_VAD_THRESHOLD", u.Handshake.VADThreshold)
	u.Handshake.PrefixPaddingMs = envOrDefaultInt("HANDSHAKE_PREFIX_PADDING_MS", u.Handshake.PrefixPaddingMs)
	u.Handshake.SilenceDurationMs = envOrDefaultInt("HANDSHAKE_SILENCE_DURATION_MS", u.Handshake.SilenceDurationMs)
	u.Handshake.Temperature = envOrDefaultFloat("HANDSHAKE_TEMPERATURE", u.Handshake.Temperature)
	u.Google.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", u.Google.LanguageCode)
	u.Google.SampleRateHz = int32(envOrDefaultInt("STT_SAMPLE_RATE_HZ", int(u.Google.SampleRateHz)))
	u.Google.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", u.Google.InterimResults)
	u.Google.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", u.Google.AudioEncoding)
	u.Mock.Simulate = envOrDefaultBool("MOCK_SIMULATE", u.Mock.Simulate)

	c.Queue.MaxDepth = envOrDefaultInt("QUEUE_MAX_DEPTH", c.Queue.MaxDepth)
	c.Queue.DrainPause = envOrDefaultDuration("QUEUE_DRAIN_PAUSE", c.Queue.DrainPause)

	c.Store.Driver = envOrDefault("STORE_DRIVER", c.Store.Driver)
	c.Store.URI = envOrDefault("MONGO_URI", c.Store.URI)
	c.Store.Database = envOrDefault("MONGO_DATABASE", c.Store.Database)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicUtterance = envOrDefault("KAFKA_TOPIC_UTTERANCE", c.Kafka.TopicUtterance)
	c.Kafka.TopicStatus = envOrDefault("KAFKA_TOPIC_STATUS", c.Kafka.TopicStatus)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.TranslationLog.Buffer = envOrDefaultInt("TRANSLOG_BUFFER", c.TranslationLog.Buffer)
	c.TranslationLog.Workers = envOrDefaultInt("TRANSLOG_WORKERS", c.TranslationLog.Workers)
	c.TranslationLog.WriteTimeout = envOrDefaultDuration("TRANSLOG_WRITE_TIMEOUT", c.TranslationLog.WriteTimeout)

	c.ChunkLog.Enabled = envOrDefaultBool("CHUNKLOG_ENABLED", c.ChunkLog.Enabled)
	c.ChunkLog.StorePayload = envOrDefaultBool("CHUNKLOG_STORE_PAYLOAD", c.ChunkLog.StorePayload)
	c.ChunkLog.Buffer = envOrDefaultInt("CHUNKLOG_BUFFER", c.ChunkLog.Buffer)
	c.ChunkLog.Workers = envOrDefaultInt("CHUNKLOG_WORKERS", c.ChunkLog.Workers)
	c.ChunkLog.WriteTimeout = envOrDefaultDuration("CHUNKLOG_WRITE_TIMEOUT", c.ChunkLog.WriteTimeout)

	c.Auth.JWTSecret = envOrDefault("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Billing.StripeKey = envOrDefault("STRIPE_SECRET_KEY", c.Billing.StripeKey)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogLevel = strings.ToLower(envOrDefault("ZEROLOG_LOG_LEVEL", c.Observability.LogLevel))
	if c.Service.Env == "dev" && os.Getenv("LOG_FORMAT") == "" {
		c.Observability.LogFormat = "console"
	}
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}
	switch c.Store.Driver {
	case "memory":
	case "mongo":
		if c.Store.URI == "" {
			return fmt.Errorf("store config: uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("store config: driver must be memory or mongo, got %q", c.Store.Driver)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka config: brokers are required when kafka is enabled")
		}
		if c.Kafka.TopicUtterance == "" || c.Kafka.TopicStatus == "" {
			return fmt.Errorf("kafka config: both topics are required when kafka is enabled")
		}
	}
	if c.TranslationLog.Buffer < 1 || c.TranslationLog.Workers < 1 {
		return fmt.Errorf("translation log config: buffer and workers must be at least 1")
	}
	if c.ChunkLog.Enabled && (c.ChunkLog.Buffer < 1 || c.ChunkLog.Workers < 1) {
		return fmt.Errorf("chunk log config: buffer and workers must be at least 1")
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config: %w", err)
	}
	return nil
}

func (s *ServiceConfig) Validate() error {
	for name, port := range map[string]string{"httpPort": s.HTTPPort, "grpcPort": s.GRPCPort} {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %q", name, port)
		}
	}
	if s.Principal == "" {
		return fmt.Errorf("principal cannot be empty")
	}
	return nil
}

func (u *UpstreamConfig) Validate() error {
	switch u.Provider {
	case "openai", "google", "mock":
	default:
		return fmt.Errorf("provider must be openai, google or mock, got %q", u.Provider)
	}
	h := u.Handshake
	if h.VADThreshold < 0 || h.VADThreshold > 1 {
		return fmt.Errorf("vadThreshold must be between 0 and 1, got %f", h.VADThreshold)
	}
	if h.PrefixPaddingMs < 0 || h.SilenceDurationMs < 0 {
		return fmt.Errorf("prefixPaddingMs and silenceDurationMs cannot be negative")
	}
	if h.Temperature < 0 || h.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", h.Temperature)
	}
	if u.Google.SampleRateHz <= 0 {
		return fmt.Errorf("sampleRateHz must be positive, got %d", u.Google.SampleRateHz)
	}
	return nil
}

func (q *QueueConfig) Validate() error {
	if q.MaxDepth < 0 {
		return fmt.Errorf("maxDepth cannot be negative, got %d", q.MaxDepth)
	}
	if q.DrainPause < 0 {
		return fmt.Errorf("drainPause cannot be negative, got %v", q.DrainPause)
	}
	return nil
}

func (o *ObservabilityConfig) Validate() error {
	if _, err := zerolog.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("invalid logLevel %q", o.LogLevel)
	}
	if o.LogFormat != "json" && o.LogFormat != "console" {
		return fmt.Errorf("logFormat must be json or console, got %q", o.LogFormat)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
