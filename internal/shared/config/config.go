package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Store      StoreConfig
	Queue      QueueConfig
	Redis      RedisConfig
	Ollama     OllamaConfig
	Extraction ExtractionConfig
	Prompts    PromptsConfig
	Insights   InsightsConfig
	KurrentDB  KurrentDBConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	ShutdownTimeout time.Duration
	// WriteTimeout bounds a whole response; 0 disables it. Synchronous
	// patient summaries must fit inside it.
	WriteTimeout time.Duration
	CORSOrigins  []string
	// Per-IP limit applied to the internal trigger endpoints
	TriggerRPS   int
	TriggerBurst int
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver: "postgres", "sqlite" or "memory"
	Driver     string
	SQLitePath string
}

// QueueConfig controls the generation dispatcher.
type QueueConfig struct {
	// Driver: "memory" (in-process channel) or "redis" (shared list)
	Driver   string
	Workers  int
	Capacity int
	RedisKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// FragmentsChannel mirrors generation fragments over pub/sub when set
	FragmentsChannel string
}

type OllamaConfig struct {
	Host        string
	VisionModel string
	TextModel   string
	KeepAlive   time.Duration
}

type ExtractionConfig struct {
	// Driver: "ollama" (vision model) or "documentai"
	Driver       string
	UploadsRoot  string
	PDFRenderer  string
	PDFDPI       int
	DocAIProject string
	DocAILoc     string
	DocAIProc    string
}

// PromptsConfig optionally overrides the embedded prompt files.
type PromptsConfig struct {
	InsightPath        string
	PatientSummaryPath string
	ExtractionPath     string
}

type InsightsConfig struct {
	RetryFailed bool
	MaxAttempts int
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
	// Exporter: "stdout" or "otlp"
	Exporter    string
	SampleRatio float64
}

type LogConfig struct {
	Mode string
}

// Load reads configuration from the environment, after loading .env if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			Env:             getEnv("ENV", "development"),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Minute),
			CORSOrigins:     getEnvSlice("CORS_ORIGINS", []string{"*"}),
			TriggerRPS:      getEnvInt("TRIGGER_RATE_RPS", 10),
			TriggerBurst:    getEnvInt("TRIGGER_RATE_BURST", 20),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "medsum"),
			Password: getEnv("DB_PASSWORD", "medsum"),
			Database: getEnv("DB_NAME", "medsum"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Store: StoreConfig{
			Driver:     getEnv("STORE_DRIVER", "postgres"),
			SQLitePath: getEnv("SQLITE_PATH", "medsum.db"),
		},
		Queue: QueueConfig{
			Driver:   getEnv("QUEUE_DRIVER", "memory"),
			Workers:  getEnvInt("QUEUE_WORKERS", 2),
			Capacity: getEnvInt("QUEUE_CAPACITY", 256),
			RedisKey: getEnv("QUEUE_REDIS_KEY", "medsum:insight-jobs"),
		},
		Redis: RedisConfig{
			Addr:             getEnv("REDIS_ADDR", "localhost:6379"),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getEnvInt("REDIS_DB", 0),
			FragmentsChannel: getEnv("REDIS_FRAGMENTS_CHANNEL", ""),
		},
		Ollama: OllamaConfig{
			Host:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
			VisionModel: getEnv("OLLAMA_VISION_MODEL", "qwen2.5vl:7b"),
			TextModel:   getEnv("OLLAMA_TEXT_MODEL", "qwen3:4b-instruct-2507-q8_0"),
			KeepAlive:   getEnvDuration("OLLAMA_KEEP_ALIVE", 5*time.Minute),
		},
		Extraction: ExtractionConfig{
			Driver:       getEnv("EXTRACTION_DRIVER", "ollama"),
			UploadsRoot:  getEnv("EXTRACTION_UPLOADS_ROOT", "."),
			PDFRenderer:  getEnv("EXTRACTION_PDF_RENDERER", "pdftoppm"),
			PDFDPI:       getEnvInt("EXTRACTION_PDF_DPI", 200),
			DocAIProject: getEnv("DOCUMENTAI_PROJECT", ""),
			DocAILoc:     getEnv("DOCUMENTAI_LOCATION", "us"),
			DocAIProc:    getEnv("DOCUMENTAI_PROCESSOR", ""),
		},
		Prompts: PromptsConfig{
			InsightPath:        getEnv("PROMPT_INSIGHT_PATH", ""),
			PatientSummaryPath: getEnv("PROMPT_PATIENT_SUMMARY_PATH", ""),
			ExtractionPath:     getEnv("PROMPT_EXTRACTION_PATH", ""),
		},
		Insights: InsightsConfig{
			RetryFailed: getEnvBool("INSIGHTS_RETRY_FAILED", true),
			MaxAttempts: getEnvInt("INSIGHTS_MAX_ATTEMPTS", 3),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "medsum-platform"),
			Exporter:    getEnv("OTEL_EXPORTER", "stdout"),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Log: LogConfig{
			Mode: getEnv("LOG_MODE", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Queue.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown QUEUE_DRIVER %q", c.Queue.Driver)
	}
	switch c.Extraction.Driver {
	case "ollama":
	case "documentai":
		if c.Extraction.DocAIProject == "" || c.Extraction.DocAIProc == "" {
			return fmt.Errorf("DOCUMENTAI_PROJECT and DOCUMENTAI_PROCESSOR are required for the documentai extractor")
		}
	default:
		return fmt.Errorf("unknown EXTRACTION_DRIVER %q", c.Extraction.Driver)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.Queue.Capacity)
	}
	if c.Insights.MaxAttempts <= 0 {
		return fmt.Errorf("INSIGHTS_MAX_ATTEMPTS must be positive, got %d", c.Insights.MaxAttempts)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
