// Package config provides configuration loading for the chat console.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/creastat/console/logging"
)

// Config holds the complete console configuration.
type Config struct {
	Supabase  SupabaseConfig  `koanf:"supabase"`
	Auth      AuthConfig      `koanf:"auth"`
	Redis     RedisConfig     `koanf:"redis"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	Prefs     PrefsConfig     `koanf:"prefs"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Providers ProvidersConfig `koanf:"providers"`
	GitHub    GitHubConfig    `koanf:"github"`
	RAG       RAGConfig       `koanf:"rag"`
	Logging   logging.Config  `koanf:"logging"`
}

// SupabaseConfig holds backend connection settings.
type SupabaseConfig struct {
	URL      string        `koanf:"url"`
	AnonKey  Secret        `koanf:"anon_key"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// AuthConfig holds credentials used by non-interactive clients such as chatctl.
type AuthConfig struct {
	Email    string `koanf:"email"`
	Password Secret `koanf:"password"`
}

// RedisConfig is shared by the Redis realtime broker and preference driver.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// RealtimeConfig selects the realtime broker driver ("memory" or "redis").
type RealtimeConfig struct {
	Driver string `koanf:"driver"`
}

// PrefsConfig selects the local preference driver ("memory", "redis" or "sqlite").
type PrefsConfig struct {
	Driver string        `koanf:"driver"`
	Path   string        `koanf:"path"`
	TTL    time.Duration `koanf:"ttl"`
}

// SessionsConfig controls session housekeeping.
type SessionsConfig struct {
	RetentionDays      int `koanf:"retention_days"`
	CleanupConcurrency int `koanf:"cleanup_concurrency"`
}

// ProvidersConfig throttles connection tests.
type ProvidersConfig struct {
	ValidationRate  float64 `koanf:"validation_rate"`
	ValidationBurst int     `koanf:"validation_burst"`
}

// GitHubConfig holds the public OAuth client settings. The client secret
// never leaves the backend.
type GitHubConfig struct {
	ClientID     string   `koanf:"client_id"`
	RedirectURL  string   `koanf:"redirect_url"`
	CallbackAddr string   `koanf:"callback_addr"`
	Scopes       []string `koanf:"scopes"`
}

// RAGConfig configures tier routing and the vector stores behind each tier.
// The standard driver is "edge" or "chromem"; the premium driver is "edge"
// or "qdrant". Local drivers embed with Embedder ("hash", "openai" or "ollama").
type RAGConfig struct {
	MigrationThreshold float64 `koanf:"migration_threshold"`
	StandardDriver     string  `koanf:"standard_driver"`
	PremiumDriver      string  `koanf:"premium_driver"`
	Embedder           string  `koanf:"embedder"`
	EmbedderModel      string  `koanf:"embedder_model"`
	EmbedderURL        string  `koanf:"embedder_url"`
	EmbedderAPIKey     Secret  `koanf:"embedder_api_key"`
	QdrantURL          string  `koanf:"qdrant_url"`
	QdrantAPIKey       Secret  `koanf:"qdrant_api_key"`
	QdrantCollection   string  `koanf:"qdrant_collection"`
	ChromemPath        string  `koanf:"chromem_path"`
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Supabase.CacheTTL == 0 {
		c.Supabase.CacheTTL = 5 * time.Minute
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Realtime.Driver == "" {
		c.Realtime.Driver = "memory"
	}
	if c.Prefs.Driver == "" {
		c.Prefs.Driver = "memory"
	}
	if c.Prefs.Path == "" {
		c.Prefs.Path = "console-prefs.db"
	}
	if c.Sessions.RetentionDays == 0 {
		c.Sessions.RetentionDays = 30
	}
	if c.Sessions.CleanupConcurrency == 0 {
		c.Sessions.CleanupConcurrency = 4
	}
	if c.Providers.ValidationRate == 0 {
		c.Providers.ValidationRate = 1
	}
	if c.Providers.ValidationBurst == 0 {
		c.Providers.ValidationBurst = 3
	}
	if c.GitHub.CallbackAddr == "" {
		c.GitHub.CallbackAddr = "127.0.0.1:8976"
	}
	if c.GitHub.RedirectURL == "" {
		c.GitHub.RedirectURL = "http://" + c.GitHub.CallbackAddr + "/github/callback"
	}
	if len(c.GitHub.Scopes) == 0 {
		c.GitHub.Scopes = []string{"repo", "read:user"}
	}
	if c.RAG.MigrationThreshold == 0 {
		c.RAG.MigrationThreshold = 0.85
	}
	if c.RAG.StandardDriver == "" {
		c.RAG.StandardDriver = "edge"
	}
	if c.RAG.Embedder == "" {
		c.RAG.Embedder = "hash"
	}
	if c.RAG.PremiumDriver == "" {
		c.RAG.PremiumDriver = "edge"
	}
	if c.RAG.QdrantCollection == "" {
		c.RAG.QdrantCollection = "console_premium"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Fields == nil {
		c.Logging.Fields = map[string]string{"service": "console"}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" {
		return errors.New("supabase url is required")
	}
	if !c.Supabase.AnonKey.IsSet() {
		return errors.New("supabase anon key is required")
	}
	switch c.Realtime.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown realtime driver %q", c.Realtime.Driver)
	}
	switch c.Prefs.Driver {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown prefs driver %q", c.Prefs.Driver)
	}
	switch c.RAG.StandardDriver {
	case "edge", "chromem":
	default:
		return fmt.Errorf("unknown rag standard driver %q", c.RAG.StandardDriver)
	}
	switch c.RAG.Embedder {
	case "hash", "ollama":
	case "openai":
		if !c.RAG.EmbedderAPIKey.IsSet() {
			return errors.New("rag embedder api key is required for the openai embedder")
		}
	default:
		return fmt.Errorf("unknown rag embedder %q", c.RAG.Embedder)
	}
	switch c.RAG.PremiumDriver {
	case "edge":
	case "qdrant":
		if c.RAG.QdrantURL == "" {
			return errors.New("rag qdrant url is required for the qdrant premium driver")
		}
	default:
		return fmt.Errorf("unknown rag premium driver %q", c.RAG.PremiumDriver)
	}
	if c.Sessions.RetentionDays < 1 {
		return fmt.Errorf("sessions retention must be at least one day, got %d", c.Sessions.RetentionDays)
	}
	if c.RAG.MigrationThreshold <= 0 || c.RAG.MigrationThreshold > 1 {
		return fmt.Errorf("rag migration threshold must be in (0, 1], got %v", c.RAG.MigrationThreshold)
	}
	return c.Logging.Validate()
}

// Retention returns the session inactivity window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sessions.RetentionDays) * 24 * time.Hour
}
