package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	SearchConsole SearchConsoleConfig
	Check         CheckConfig

	// Storage
	StorageType string // "sqlite", "postgres" or "none"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// FixturePath, when set, answers metrics queries from a JSON file
	// instead of Search Console.
	FixturePath string

	// Logging
	LogLevel string
}

// SearchConsoleConfig holds the metrics backend settings and credentials
type SearchConsoleConfig struct {
	SiteURL           string
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	AccessToken       string
	TokenURI          string
	APIBaseURL        string
	RowLimit          int
	RequestsPerSecond float64
}

// CheckConfig holds the conflict check defaults
type CheckConfig struct {
	Windows              []int
	PositionThreshold    float64
	ImpressionsThreshold float64
	Workers              int
	QueryTimeout         time.Duration
	Deadline             time.Duration
	RateLimitRetries     int
	RetryBackoff         time.Duration
}

// Load loads the configuration from environment variables. Values from the
// given env files (default .env) never override variables already set.
func Load(envFiles ...string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load(envFiles...)

	p := &parser{}
	cfg := &Config{
		SearchConsole: SearchConsoleConfig{
			SiteURL:           getEnv("GSC_SITE_URL", ""),
			ClientID:          getEnv("GSC_CLIENT_ID", ""),
			ClientSecret:      getEnv("GSC_CLIENT_SECRET", ""),
			RefreshToken:      getEnv("GSC_REFRESH_TOKEN", ""),
			AccessToken:       getEnv("GSC_ACCESS_TOKEN", ""),
			TokenURI:          getEnv("GSC_TOKEN_URI", "https://oauth2.googleapis.com/token"),
			APIBaseURL:        getEnv("GSC_API_BASE_URL", "https://searchconsole.googleapis.com/webmasters/v3"),
			RowLimit:          p.getInt("GSC_ROW_LIMIT", 100),
			RequestsPerSecond: p.getFloat("GSC_REQUESTS_PER_SECOND", 5),
		},
		Check: CheckConfig{
			Windows:              p.getWindows("CHECK_WINDOWS", []int{1, 7, 28}),
			PositionThreshold:    p.getFloat("POSITION_THRESHOLD", 30),
			ImpressionsThreshold: p.getFloat("IMPRESSIONS_THRESHOLD", 50),
			Workers:              p.getInt("CHECK_WORKERS", 4),
			QueryTimeout:         p.getDuration("QUERY_TIMEOUT", 20*time.Second),
			Deadline:             p.getDuration("CHECK_DEADLINE", 2*time.Minute),
			RateLimitRetries:     p.getInt("RATE_LIMIT_RETRIES", 2),
			RetryBackoff:         p.getDuration("RETRY_BACKOFF", time.Second),
		},
		StorageType: strings.ToLower(getEnv("STORAGE_TYPE", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "./reports.db"),
		PostgresURL: getEnv("POSTGRES_URL", ""),
		APIPort:     getEnv("API_PORT", "8080"),
		APIHost:     getEnv("API_HOST", "localhost"),
		APIEndpoint: getEnv("API_ENDPOINT", "http://localhost:8080"),
		FixturePath: getEnv("FIXTURE_PATH", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
	if p.err != nil {
		return nil, p.err
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser reads typed variables and keeps the first parse failure
type parser struct {
	err *ConfigError
}

func (p *parser) fail(key, value, want string) {
	if p.err == nil {
		p.err = &ConfigError{Field: key, Message: fmt.Sprintf("invalid value %q: expected %s", value, want)}
	}
}

func (p *parser) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		p.fail(key, value, "an integer")
		return defaultValue
	}
	return n
}

func (p *parser) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		p.fail(key, value, "a number")
		return defaultValue
	}
	return f
}

func (p *parser) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		p.fail(key, value, "a duration such as 20s or 2m")
		return defaultValue
	}
	return d
}

func (p *parser) getWindows(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	windows, err := ParseWindows(value)
	if err != nil {
		p.fail(key, value, "a comma separated list of day counts")
		return defaultValue
	}
	return windows
}

// ParseWindows parses a comma separated list of day counts such as "1,7,28".
func ParseWindows(value string) ([]int, error) {
	var windows []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid window %q: %w", part, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("window must be a positive day count, got %d", n)
		}
		windows = append(windows, n)
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("no windows in %q", value)
	}
	return windows, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.StorageType {
	case "sqlite", "postgres", "none":
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'none'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.Check.PositionThreshold < 1 {
		return &ConfigError{Field: "POSITION_THRESHOLD", Message: "must be at least 1"}
	}
	if c.Check.ImpressionsThreshold < 0 {
		return &ConfigError{Field: "IMPRESSIONS_THRESHOLD", Message: "must not be negative"}
	}
	if c.Check.Workers <= 0 {
		return &ConfigError{Field: "CHECK_WORKERS", Message: "must be positive"}
	}
	if c.Check.QueryTimeout <= 0 {
		return &ConfigError{Field: "QUERY_TIMEOUT", Message: "must be positive"}
	}
	if c.Check.RateLimitRetries < 0 {
		return &ConfigError{Field: "RATE_LIMIT_RETRIES", Message: "must not be negative"}
	}
	if c.SearchConsole.RowLimit <= 0 || c.SearchConsole.RowLimit > 25000 {
		return &ConfigError{Field: "GSC_ROW_LIMIT", Message: "must be between 1 and 25000"}
	}
	return nil
}

// ValidateSearchConsole checks the settings needed to query the live backend
func (c *Config) ValidateSearchConsole() error {
	sc := c.SearchConsole
	if sc.SiteURL == "" {
		return &ConfigError{Field: "GSC_SITE_URL", Message: "Search Console property is required"}
	}
	if sc.RefreshToken == "" && sc.AccessToken == "" {
		return &ConfigError{Field: "GSC_REFRESH_TOKEN", Message: "a refresh token or access token is required"}
	}
	if sc.RefreshToken != "" && (sc.ClientID == "" || sc.ClientSecret == "") {
		return &ConfigError{Field: "GSC_CLIENT_ID", Message: "client ID and secret are required to refresh tokens"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
