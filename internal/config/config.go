package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CODEDECK"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "codedeck.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 30
	defaultIdentityIssuer  = "codedeck-auth"
	defaultCookieName      = "app_session"
	defaultSweepSeconds    = 10
	defaultStaleSeconds    = 30
	defaultDebounceMillis  = 2000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	SigningSecret         string
	TokenTTL              time.Duration
	IdentitySigningSecret string
	IdentityIssuer        string
	IdentityCookieName    string
	RunServiceURL         string
	PresenceSweepInterval time.Duration
	PresenceStaleAfter    time.Duration
	AutosaveDebounce      time.Duration
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("identity.issuer", defaultIdentityIssuer)
	configViper.SetDefault("identity.cookie_name", defaultCookieName)
	configViper.SetDefault("run.url", "")
	configViper.SetDefault("session.sweep_interval_s", defaultSweepSeconds)
	configViper.SetDefault("session.stale_after_s", defaultStaleSeconds)
	configViper.SetDefault("autosave.debounce_ms", defaultDebounceMillis)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		SigningSecret:         configViper.GetString("auth.signing_secret"),
		TokenTTL:              time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		IdentitySigningSecret: configViper.GetString("identity.signing_secret"),
		IdentityIssuer:        configViper.GetString("identity.issuer"),
		IdentityCookieName:    configViper.GetString("identity.cookie_name"),
		RunServiceURL:         configViper.GetString("run.url"),
		PresenceSweepInterval: time.Duration(configViper.GetInt("session.sweep_interval_s")) * time.Second,
		PresenceStaleAfter:    time.Duration(configViper.GetInt("session.stale_after_s")) * time.Second,
		AutosaveDebounce:      time.Duration(configViper.GetInt("autosave.debounce_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.IdentitySigningSecret) == "" {
		return fmt.Errorf("identity.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.PresenceSweepInterval <= 0 || c.PresenceStaleAfter <= 0 {
		return fmt.Errorf("session intervals must be positive")
	}
	if c.AutosaveDebounce <= 0 {
		return fmt.Errorf("autosave.debounce_ms must be positive")
	}
	return nil
}
