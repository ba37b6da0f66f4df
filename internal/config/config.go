package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

// Listings backend kinds
const (
	BackendGateway   = "gateway"
	BackendPostgrest = "postgrest"
	BackendPostgres  = "postgres"
)

type Config struct {
	Logs LogConfig `yaml:"logs"`

	Port               string `yaml:"port"`
	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseProjectRef string `yaml:"-"`
	SupabaseAnonKey    string `yaml:"supabase_anon_key"`
	SupabaseSecretKey  string `yaml:"supabase_secret_key"`
	SupabaseBucket     string `yaml:"supabase_bucket"`

	// Which listings store the server proxies to
	ListingsBackend string `yaml:"listings_backend"`
	BackendURL      string `yaml:"backend_url"`
	BackendAPIKey   string `yaml:"backend_api_key"`
	DatabaseURL     string `yaml:"database_url"`

	AdminEmail         string   `yaml:"admin_email"`
	AllowedEmailDomain string   `yaml:"allowed_email_domain"`
	SiteURL            string   `yaml:"site_url"`
	AllowedOrigins     []string `yaml:"cors_allowed_origins"`

	// Contact-seller messages allowed per signed-in user each minute
	ContactRatePerMinute int `yaml:"contact_rate_per_minute"`

	// Base URL the CLI client talks to
	APIURL string `yaml:"api_url"`
}

type LogConfig struct {
	Style string `yaml:"style"`
	Level string `yaml:"level"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Logs: LogConfig{
			Style: "json",
			Level: "info",
		},
		Port:                 "8080",
		SupabaseBucket:       "listing-images",
		ListingsBackend:      BackendGateway,
		AdminEmail:           "mahatnitai@gmail.com",
		AllowedEmailDomain:   "@augustana.edu",
		SiteURL:              "http://localhost:3000",
		AllowedOrigins:       []string{"*"},
		ContactRatePerMinute: 5,
		APIURL:               "http://localhost:8080",
	}
}

// LoadConfig builds the config from defaults, then the YAML file named by
// GUS_CONFIG (if any), then environment variables
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("GUS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Extract project ref key
	cfg.SupabaseProjectRef = projectRef(cfg.SupabaseURL)

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.SupabaseURL = strings.TrimRight(getEnv("SUPABASE_URL", c.SupabaseURL), "/")

	key := os.Getenv("SUPABASE_ANON_KEY")
	if key == "" {
		key = os.Getenv("SUPABASE_KEY")
	}
	if key != "" {
		c.SupabaseAnonKey = key
	}

	c.SupabaseSecretKey = getEnv("SUPABASE_SECRET_KEY", c.SupabaseSecretKey)
	c.SupabaseBucket = getEnv("SUPABASE_BUCKET", c.SupabaseBucket)
	c.ListingsBackend = strings.ToLower(getEnv("LISTINGS_BACKEND", c.ListingsBackend))
	c.BackendURL = strings.TrimRight(getEnv("BACKEND_URL", c.BackendURL), "/")
	c.BackendAPIKey = getEnv("BACKEND_API_KEY", c.BackendAPIKey)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.AdminEmail = getEnv("ADMIN_EMAIL", c.AdminEmail)
	c.AllowedEmailDomain = getEnv("ALLOWED_EMAIL_DOMAIN", c.AllowedEmailDomain)
	c.SiteURL = strings.TrimRight(getEnv("SITE_URL", c.SiteURL), "/")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); strings.TrimSpace(v) != "" {
		c.AllowedOrigins = splitCSV(v)
	}
	c.ContactRatePerMinute = getEnvInt("CONTACT_RATE_PER_MINUTE", c.ContactRatePerMinute)
	c.APIURL = strings.TrimRight(getEnv("GUS_API_URL", c.APIURL), "/")
	c.Logs.Level = getEnv("LOG_LEVEL", c.Logs.Level)
	c.Logs.Style = getEnv("LOG_STYLE", c.Logs.Style)
}

// Validate checks that the selected listings backend and the auth provider
// have what they need. Only the server calls this; CLI client commands only
// need APIURL
func (c *Config) Validate() error {
	var errs []error

	if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
		errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required"))
	}

	switch c.ListingsBackend {
	case BackendGateway:
		if c.BackendURL == "" || c.BackendAPIKey == "" {
			errs = append(errs, errors.New("BACKEND_URL and BACKEND_API_KEY are required for the gateway backend"))
		}
	case BackendPostgrest:
		if c.SupabaseSecretKey == "" {
			errs = append(errs, errors.New("SUPABASE_SECRET_KEY is required for the postgrest backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
		if c.SupabaseSecretKey == "" {
			errs = append(errs, errors.New("SUPABASE_SECRET_KEY is required to store images"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LISTINGS_BACKEND %q", c.ListingsBackend))
	}

	if c.ContactRatePerMinute <= 0 {
		errs = append(errs, errors.New("CONTACT_RATE_PER_MINUTE must be positive"))
	}

	return errors.Join(errs...)
}

// projectRef turns https://abcd.supabase.co into abcd
func projectRef(supabaseURL string) string {
	ref := strings.TrimPrefix(supabaseURL, "https://")
	ref = strings.TrimPrefix(ref, "http://")
	if idx := strings.Index(ref, ".supabase.co"); idx != -1 {
		return ref[:idx]
	}
	return ref
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
