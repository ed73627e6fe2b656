package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "WARDEN"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "warden.db"
	defaultLogLevel         = "info"
	defaultPlatformBaseURL  = "https://api.telegram.org"
	defaultMaxSendBytes     = 200 * 1024 * 1024
	defaultDownloadTimeout  = 5 * time.Minute
	defaultSessionTTL       = 15 * time.Minute
	defaultSessionCapacity  = 1024
	defaultDownloadWorkers  = 2
	defaultYtDlpPath        = "yt-dlp"
	defaultOperatorTokenTTL = 60
)

// AppConfig captures runtime configuration for the bot service.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	PlatformToken   string
	PlatformBaseURL string
	SuperAdminID    string
	FilterTerms     []string
	Downloads       DownloadConfig
	Operator        OperatorConfig
}

// DownloadConfig groups the media retrieval settings.
type DownloadConfig struct {
	MaxSendBytes    int64
	Timeout         time.Duration
	SessionTTL      time.Duration
	SessionCapacity int
	Workers         int
	ScratchDir      string
	YtDlpPath       string
	SaveTubeKey     string
}

// OperatorConfig configures the operator API token issuer.
type OperatorConfig struct {
	SigningSecret string
	TokenTTL      time.Duration
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
	configViper.SetDefault("platform.base_url", defaultPlatformBaseURL)
	configViper.SetDefault("filter.terms", []string{})
	configViper.SetDefault("downloads.max_send_bytes", defaultMaxSendBytes)
	configViper.SetDefault("downloads.timeout", defaultDownloadTimeout)
	configViper.SetDefault("downloads.session_ttl", defaultSessionTTL)
	configViper.SetDefault("downloads.session_capacity", defaultSessionCapacity)
	configViper.SetDefault("downloads.workers", defaultDownloadWorkers)
	configViper.SetDefault("downloads.ytdlp_path", defaultYtDlpPath)
	configViper.SetDefault("operator.token_ttl_minutes", defaultOperatorTokenTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		PlatformToken:   configViper.GetString("platform.token"),
		PlatformBaseURL: configViper.GetString("platform.base_url"),
		SuperAdminID:    strings.TrimSpace(configViper.GetString("admin.super_admin_id")),
		FilterTerms:     normalizeTerms(configViper.GetStringSlice("filter.terms")),
		Downloads: DownloadConfig{
			MaxSendBytes:    configViper.GetInt64("downloads.max_send_bytes"),
			Timeout:         configViper.GetDuration("downloads.timeout"),
			SessionTTL:      configViper.GetDuration("downloads.session_ttl"),
			SessionCapacity: configViper.GetInt("downloads.session_capacity"),
			Workers:         configViper.GetInt("downloads.workers"),
			ScratchDir:      configViper.GetString("downloads.scratch_dir"),
			YtDlpPath:       configViper.GetString("downloads.ytdlp_path"),
			SaveTubeKey:     configViper.GetString("downloads.savetube_key"),
		},
		Operator: loadOperator(configViper),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadOperator parses only the operator token settings, for tooling that does not talk to the platform.
func LoadOperator(configViper *viper.Viper) (OperatorConfig, error) {
	cfg := loadOperator(configViper)
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return OperatorConfig{}, fmt.Errorf("operator.signing_secret is required")
	}
	if cfg.TokenTTL <= 0 {
		return OperatorConfig{}, fmt.Errorf("operator.token_ttl_minutes must be positive")
	}
	return cfg, nil
}

func loadOperator(configViper *viper.Viper) OperatorConfig {
	return OperatorConfig{
		SigningSecret: configViper.GetString("operator.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("operator.token_ttl_minutes")) * time.Minute,
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.PlatformToken) == "" {
		return fmt.Errorf("platform.token is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Operator.SigningSecret) == "" {
		return fmt.Errorf("operator.signing_secret is required")
	}
	if c.Downloads.MaxSendBytes <= 0 {
		return fmt.Errorf("downloads.max_send_bytes must be positive")
	}
	if c.Downloads.Workers <= 0 {
		return fmt.Errorf("downloads.workers must be positive")
	}
	if c.Downloads.Timeout <= 0 {
		return fmt.Errorf("downloads.timeout must be positive")
	}
	return nil
}

func normalizeTerms(raw []string) []string {
	terms := make([]string, 0, len(raw))
	for _, term := range raw {
		// env values arrive as a single comma separated string
		for _, part := range strings.Split(term, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed != "" {
				terms = append(terms, trimmed)
			}
		}
	}
	return terms
}
