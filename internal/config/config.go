package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CLASSNOTES"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "classnotes.db"
	defaultLocalPath       = "classnotes-local.db"
	defaultRemoteURL       = "http://127.0.0.1:8080"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 720
	defaultSyncAttempts    = 1
	defaultViewportWidth   = 1280
	defaultViewportHeight  = 720
)

// ServerConfig captures runtime configuration for the hosted store.
type ServerConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	DatabasePath   string
	SigningSecret  string
	TokenTTL       time.Duration
	LogLevel       string
}

// AdminConfig is what the key management commands need: direct access to the store database.
type AdminConfig struct {
	DatabasePath string
	LogLevel     string
}

// ClientConfig captures runtime configuration for the local-first portal client.
type ClientConfig struct {
	RemoteURL       string
	LocalPath       string
	LogLevel        string
	SyncMaxAttempts int
	ViewportWidth   float64
	ViewportHeight  float64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("local.path", defaultLocalPath)
	configViper.SetDefault("remote.url", defaultRemoteURL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("sync.max_attempts", defaultSyncAttempts)
	configViper.SetDefault("viewport.width", defaultViewportWidth)
	configViper.SetDefault("viewport.height", defaultViewportHeight)
}

// LoadServer parses server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:   configViper.GetString("database.path"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

// LoadAdmin parses the database settings shared with the server.
func LoadAdmin(configViper *viper.Viper) (AdminConfig, error) {
	cfg := AdminConfig{
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return AdminConfig{}, fmt.Errorf("database.path is required")
	}
	return cfg, nil
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		RemoteURL:       strings.TrimRight(configViper.GetString("remote.url"), "/"),
		LocalPath:       configViper.GetString("local.path"),
		LogLevel:        configViper.GetString("log.level"),
		SyncMaxAttempts: configViper.GetInt("sync.max_attempts"),
		ViewportWidth:   configViper.GetFloat64("viewport.width"),
		ViewportHeight:  configViper.GetFloat64("viewport.height"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.LocalPath) == "" {
		return fmt.Errorf("local.path is required")
	}
	parsed, err := url.Parse(c.RemoteURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.url must be an absolute URL")
	}
	if c.SyncMaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	return nil
}
