// Package config loads mailcore settings from a YAML file, an optional
// .env file and MAILCORE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ngksmail/go-imapsync/internal/paths"
)

// EnvPrefix prefixes every environment override, e.g.
// MAILCORE_SYNC_LIMIT or MAILCORE_IMAP_CONNECT_TIMEOUT.
const EnvPrefix = "MAILCORE"

// DefaultSyncLimit is the number of newest messages a sync fetches.
const DefaultSyncLimit = 80

type IMAP struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	LineTimeout     time.Duration `mapstructure:"line_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	DialRetries     int           `mapstructure:"dial_retries"`
	NoopProbe       bool          `mapstructure:"noop_probe"`
	TLSSkipVerify   bool          `mapstructure:"tls_skip_verify"`
}

type Sync struct {
	Limit int `mapstructure:"limit"`
}

type OAuth struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ListenPort     int           `mapstructure:"listen_port"`
	ListenHTTPS    bool          `mapstructure:"listen_https"`
	RedirectScheme string        `mapstructure:"redirect_scheme"`
	RedirectHost   string        `mapstructure:"redirect_host"`
	CertPath       string        `mapstructure:"cert_path"`
	KeyPath        string        `mapstructure:"key_path"`
}

// ProviderClient is a registered OAuth client.
type ProviderClient struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// Config is the effective configuration.
type Config struct {
	ArtifactsDir string                    `mapstructure:"artifacts_dir"`
	LogLevel     string                    `mapstructure:"log_level"`
	IMAP         IMAP                      `mapstructure:"imap"`
	Sync         Sync                      `mapstructure:"sync"`
	OAuth        OAuth                     `mapstructure:"oauth"`
	Providers    map[string]ProviderClient `mapstructure:"providers"`

	// File is the settings file that was read, empty if none existed.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("artifacts_dir", paths.DefaultRoot)
	v.SetDefault("log_level", "info")
	v.SetDefault("imap.connect_timeout", 10*time.Second)
	v.SetDefault("imap.line_timeout", 5*time.Second)
	v.SetDefault("imap.response_timeout", 10*time.Second)
	v.SetDefault("imap.dial_retries", 0)
	v.SetDefault("imap.noop_probe", false)
	v.SetDefault("imap.tls_skip_verify", false)
	v.SetDefault("sync.limit", DefaultSyncLimit)
	v.SetDefault("oauth.timeout", 180*time.Second)
	v.SetDefault("oauth.listen_port", 0)
	v.SetDefault("oauth.listen_https", false)
	v.SetDefault("oauth.redirect_scheme", "http")
	v.SetDefault("oauth.redirect_host", "127.0.0.1")
	v.SetDefault("oauth.cert_path", "")
	v.SetDefault("oauth.key_path", "")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		return &Config{
			ArtifactsDir: paths.DefaultRoot,
			LogLevel:     "info",
			Sync:         Sync{Limit: DefaultSyncLimit},
			Providers:    map[string]ProviderClient{},
		}
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the settings file at path and applies environment
// overrides. A missing file is not an error. When envFile names an
// existing file it is loaded into the process environment first, without
// overriding variables that are already set.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := newViper()
	file := ""
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else {
			file = path
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.File = file
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Sync.Limit <= 0 {
		cfg.Sync.Limit = DefaultSyncLimit
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderClient{}
	}
	return &cfg, nil
}

// Layout returns the artifacts layout.
func (c *Config) Layout() paths.Layout { return paths.New(c.ArtifactsDir) }

// Provider returns the configured OAuth client for id.
func (c *Config) Provider(id string) ProviderClient {
	return c.Providers[strings.ToLower(id)]
}

// document is the YAML rendering of Config. Durations are written in
// their string form so the file reads back through viper.
type document struct {
	ArtifactsDir string `yaml:"artifacts_dir"`
	LogLevel     string `yaml:"log_level"`
	IMAP         struct {
		ConnectTimeout  string `yaml:"connect_timeout"`
		LineTimeout     string `yaml:"line_timeout"`
		ResponseTimeout string `yaml:"response_timeout"`
		DialRetries     int    `yaml:"dial_retries"`
		NoopProbe       bool   `yaml:"noop_probe"`
		TLSSkipVerify   bool   `yaml:"tls_skip_verify"`
	} `yaml:"imap"`
	Sync struct {
		Limit int `yaml:"limit"`
	} `yaml:"sync"`
	OAuth struct {
		Timeout        string `yaml:"timeout"`
		ListenPort     int    `yaml:"listen_port"`
		ListenHTTPS    bool   `yaml:"listen_https"`
		RedirectScheme string `yaml:"redirect_scheme"`
		RedirectHost   string `yaml:"redirect_host"`
		CertPath       string `yaml:"cert_path,omitempty"`
		KeyPath        string `yaml:"key_path,omitempty"`
	} `yaml:"oauth"`
	Providers map[string]ProviderClient `yaml:"providers,omitempty"`
}

func (c *Config) document(redact bool) document {
	var d document
	d.ArtifactsDir = c.ArtifactsDir
	d.LogLevel = c.LogLevel
	d.IMAP.ConnectTimeout = c.IMAP.ConnectTimeout.String()
	d.IMAP.LineTimeout = c.IMAP.LineTimeout.String()
	d.IMAP.ResponseTimeout = c.IMAP.ResponseTimeout.String()
	d.IMAP.DialRetries = c.IMAP.DialRetries
	d.IMAP.NoopProbe = c.IMAP.NoopProbe
	d.IMAP.TLSSkipVerify = c.IMAP.TLSSkipVerify
	d.Sync.Limit = c.Sync.Limit
	d.OAuth.Timeout = c.OAuth.Timeout.String()
	d.OAuth.ListenPort = c.OAuth.ListenPort
	d.OAuth.ListenHTTPS = c.OAuth.ListenHTTPS
	d.OAuth.RedirectScheme = c.OAuth.RedirectScheme
	d.OAuth.RedirectHost = c.OAuth.RedirectHost
	d.OAuth.CertPath = c.OAuth.CertPath
	d.OAuth.KeyPath = c.OAuth.KeyPath
	if len(c.Providers) > 0 {
		d.Providers = make(map[string]ProviderClient, len(c.Providers))
		for id, pc := range c.Providers {
			if redact && pc.ClientSecret != "" {
				pc.ClientSecret = "<REDACTED>"
			}
			d.Providers[id] = pc
		}
	}
	return d
}

// Dump renders c as YAML with client secrets redacted.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c.document(true))
}

// Save writes c to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	b, err := yaml.Marshal(c.document(false))
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
