package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Environment string
	DatabaseURL string
	Host        string
	Port        string
	JwtSecret   string

	LLMProvider       string
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIAPIKey      string
	OpenAIModel       string
	GenerationTimeout time.Duration
	GenerationRetries int
	// EditScopeMaxChange is the share of original lines a scoped edit may
	// rewrite before synthesis retries with a stricter instruction.
	EditScopeMaxChange float64

	StorageDriver      string
	StorageDir         string
	StorageBaseURL     string
	GCSBucket          string
	GCSCredentialsFile string

	LoaderHeuristicScan bool
	LoaderFlagCooldown  time.Duration
	RebuildInterval     time.Duration
	TemplatesFile       string
	CORSOrigins         []string
	TracingEnabled      bool
}

// Load reads .env (when present) and the environment. It returns an error
// for settings the server cannot run without.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if os.Getenv("APP_ENV") == "production" {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.Debugf("Load: no .env file, using process environment: %v", err)
	}

	cfg := &Config{
		Environment:        getenv("APP_ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Host:               getenv("HOST", "127.0.0.1"),
		Port:               getenv("PORT", "8080"),
		JwtSecret:          os.Getenv("JWT_SECRET"),
		LLMProvider:        strings.ToLower(getenv("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getenv("GEMINI_MODEL", "gemini-1.5-flash"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getenv("OPENAI_MODEL", "gpt-4o"),
		StorageDriver:      strings.ToLower(getenv("STORAGE_DRIVER", "local")),
		StorageDir:         getenv("STORAGE_DIR", "./data/artifacts"),
		StorageBaseURL:     os.Getenv("STORAGE_BASE_URL"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		TemplatesFile:      os.Getenv("TEMPLATES_FILE"),
	}

	var errs []error
	cfg.GenerationTimeout, errs = duration("GENERATION_TIMEOUT", 90*time.Second, errs)
	cfg.LoaderFlagCooldown, errs = duration("LOADER_FLAG_COOLDOWN", 5*time.Minute, errs)
	cfg.RebuildInterval, errs = duration("REBUILD_INTERVAL", 10*time.Minute, errs)
	cfg.GenerationRetries, errs = integer("GENERATION_RETRIES", 2, errs)
	cfg.LoaderHeuristicScan, errs = boolean("LOADER_HEURISTIC_SCAN", false, errs)
	cfg.TracingEnabled, errs = boolean("TRACING_ENABLED", false, errs)

	share, err := strconv.ParseFloat(getenv("EDIT_SCOPE_MAX_CHANGE", "0.5"), 64)
	if err != nil || share <= 0 || share > 1 {
		errs = append(errs, fmt.Errorf("EDIT_SCOPE_MAX_CHANGE must be in (0, 1]"))
	}
	cfg.EditScopeMaxChange = share

	for _, origin := range strings.Split(getenv("CORS_ORIGINS", "http://localhost:3000"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is not set"))
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider))
	}

	switch cfg.StorageDriver {
	case "local":
		if cfg.StorageBaseURL == "" {
			cfg.StorageBaseURL = fmt.Sprintf("http://%s:%s/artifacts", cfg.Host, cfg.Port)
		}
	case "gcs":
		if cfg.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// LoadConfig is Load for main: any configuration error is fatal.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.JwtSecret == "" {
		log.Warn("JWT_SECRET is not set. Bearer token validation is disabled.")
	}
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL is not set. Using the in-memory store; nothing survives a restart.")
	}
	return cfg
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration, errs []error) (time.Duration, []error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, errs
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback, append(errs, fmt.Errorf("%s must be a positive duration, got %q", key, raw))
	}
	return d, errs
}

func integer(key string, fallback int, errs []error) (int, []error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, errs
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback, append(errs, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw))
	}
	return n, errs
}

func boolean(key string, fallback bool, errs []error) (bool, []error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, errs
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, raw))
	}
	return b, errs
}
