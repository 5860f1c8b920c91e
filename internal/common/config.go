package common

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Ledger   LedgerConfig
	Auth     AuthConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr        string
	HTTPAddr        string
	UploadRate      int // uploads per minute per user
	ShutdownTimeout time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Engine      string // "tesseract" (CLI) or "libtess" (in-process)
	Tesseract   string
	Lang        string
	TessdataDir string
	PSM         int
	Budget      time.Duration
}

// LLMConfig holds fallback extractor configuration
type LLMConfig struct {
	Model         string
	APIKey        string
	BaseURL       string
	Temperature   float32
	Timeout       time.Duration
	MinConfidence float32
}

// PipelineConfig holds ingestion coordinator settings
type PipelineConfig struct {
	TrustThreshold     float64
	ImageConcurrency   int
	Workers            int
	QueueSize          int
	BatchTimeout       time.Duration
	BatchRetention     time.Duration
	MaxImageBytes      int
	MaxImagesPerBatch  int
	FallbackRatePerMin int
	FallbackBurst      int
}

// LedgerConfig holds credit ledger settings
type LedgerConfig struct {
	ReservationTTL time.Duration
	SweepInterval  time.Duration
	DefaultLimit   int
}

// AuthConfig holds the shared secret used to verify tokens from the auth layer
type AuthConfig struct {
	JWTSecret string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads .env (current or parent directory, if present) and then environment variables.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		if err = godotenv.Load("../.env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config.dotenv.load_failed", "error", err)
		}
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:        getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr:        getEnv("HTTP_ADDR", ":8081"),
			UploadRate:      getEnvAsInt("UPLOAD_RATE_PER_MIN", 20),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		OCR: OCRConfig{
			Engine:      strings.ToLower(getEnv("OCR_ENGINE", "tesseract")),
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			Lang:        getEnv("TESSERACT_LANG", "eng"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			PSM:         getEnvAsInt("TESSERACT_PSM", 6),
			Budget:      getEnvAsDuration("OCR_BUDGET", 3*time.Second),
		},
		LLM: LLMConfig{
			Model:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:        getEnv("OPENAI_API_KEY", ""),
			BaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature:   getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:       getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
			MinConfidence: getEnvAsFloat32("FALLBACK_MIN_CONFIDENCE", 0.60),
		},
		Pipeline: PipelineConfig{
			TrustThreshold:     getEnvAsFloat64("TRUST_THRESHOLD", 0.80),
			ImageConcurrency:   getEnvAsInt("IMAGE_CONCURRENCY", 4),
			Workers:            getEnvAsInt("QUEUE_WORKERS", 4),
			QueueSize:          getEnvAsInt("QUEUE_SIZE", 256),
			BatchTimeout:       getEnvAsDuration("BATCH_TIMEOUT", 3*time.Minute),
			BatchRetention:     getEnvAsDuration("BATCH_RETENTION", time.Hour),
			MaxImageBytes:      getEnvAsInt("MAX_IMAGE_BYTES", 10<<20),
			MaxImagesPerBatch:  getEnvAsInt("MAX_IMAGES_PER_BATCH", 20),
			FallbackRatePerMin: getEnvAsInt("FALLBACK_RATE_PER_MIN", 30),
			FallbackBurst:      getEnvAsInt("FALLBACK_BURST", 5),
		},
		Ledger: LedgerConfig{
			ReservationTTL: getEnvAsDuration("RESERVATION_TTL", 10*time.Minute),
			SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
			DefaultLimit:   getEnvAsInt("DEFAULT_CREDIT_LIMIT", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR or HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Auth.JWTSecret == "" {
		return NewAppError("CONFIG_ERROR", "JWT_SECRET is required", ErrInvalidInput)
	}
	if c.Pipeline.TrustThreshold <= 0 || c.Pipeline.TrustThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "TRUST_THRESHOLD must be in (0,1]", ErrInvalidInput)
	}
	if c.OCR.Budget <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_BUDGET must be positive", ErrInvalidInput)
	}
	if c.Ledger.ReservationTTL <= 0 {
		return NewAppError("CONFIG_ERROR", "RESERVATION_TTL must be positive", ErrInvalidInput)
	}
	return nil
}
