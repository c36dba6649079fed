package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	RelayBaseURL     string
	BFLTargetURL     string
	AllowedOrigins   []string
	ProxyTimeout     time.Duration
	GeminiAPIKey     string
	GeminiBaseURL    string
	DataDir          string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	NotificationTTL  time.Duration
}

var defaultAllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "3001")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		RelayBaseURL:     strings.TrimRight(getEnv("RELAY_BASE_URL", "http://localhost:"+port), "/"),
		BFLTargetURL:     strings.TrimRight(getEnv("BFL_TARGET_URL", "https://api.bfl.ml"), "/"),
		AllowedOrigins:   getEnvCSV("RELAY_ALLOWED_ORIGINS", defaultAllowedOrigins),
		ProxyTimeout:     time.Second * time.Duration(getEnvInt("PROXY_TIMEOUT_SECONDS", 60)),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		DataDir:          getEnv("DATA_DIR", ".crafter"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		NotificationTTL:  time.Second * time.Duration(getEnvInt("NOTIFICATION_TTL_SECONDS", 5)),
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("PORT must be numeric, got %q", cfg.Port)
	}
	if u, err := url.Parse(cfg.BFLTargetURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("BFL_TARGET_URL is not a valid absolute url: %q", cfg.BFLTargetURL)
	}
	if u, err := url.Parse(cfg.RelayBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("RELAY_BASE_URL is not a valid absolute url: %q", cfg.RelayBaseURL)
	}
	if cfg.ProxyTimeout <= 0 {
		return nil, fmt.Errorf("PROXY_TIMEOUT_SECONDS must be positive")
	}
	if cfg.NotificationTTL <= 0 {
		return nil, fmt.Errorf("NOTIFICATION_TTL_SECONDS must be positive")
	}
	if cfg.RateLimitPerMin <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvCSV(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
