package docsig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/ini.v1"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	envPrefix      = "DOCSIG_"
	defaultProfile = "default"
)

// Config is the merged client configuration. Credential keys use the names
// of the credentials file.
type Config struct {
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	APIKey          string `koanf:"api_key"`
	ClientID        string `koanf:"client_id"`
	ClientSecret    string `koanf:"client_secret"`
	AuthEndpoint    string `koanf:"auth_endpoint"`
	APIEndpoint     string `koanf:"api_endpoint"`

	Client ClientConfig `koanf:"client"`
	Log    LogConfig    `koanf:"log"`
}

type ClientConfig struct {
	Timeout          time.Duration `koanf:"timeout"`
	MaxBackoff       time.Duration `koanf:"max_backoff"`
	TransientRetries int           `koanf:"transient_retries"`
	RateLimit        float64       `koanf:"rate_limit"`
	RateBurst        int           `koanf:"rate_burst"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// LoadOptions selects the sources LoadConfig reads. Every field is optional.
type LoadOptions struct {
	// SettingsFile is a YAML file with client and log settings.
	SettingsFile string
	// CredentialsFile is an INI file; DefaultCredentialsFile is used when
	// empty and it exists.
	CredentialsFile string
	// Profile is the INI section to read, "default" when empty.
	Profile string
	// Overrides are explicit values with the highest priority.
	Overrides map[string]any
	// Environ replaces os.Environ.
	Environ func() []string
}

// DefaultCredentialsFile returns ~/.docsig/credentials.cfg.
func DefaultCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docsig", "credentials.cfg")
}

// LoadConfig merges, from lowest to highest priority: defaults, the settings
// file, the credentials file, DOCSIG_* environment variables and explicit
// overrides. Nested keys are addressed with "__" in variable names, e.g.
// DOCSIG_CLIENT__TIMEOUT.
func LoadConfig(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if opts.SettingsFile != "" {
		if err := k.Load(file.Provider(opts.SettingsFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", opts.SettingsFile, err)
		}
	}

	credentialsFile, required := opts.CredentialsFile, true
	if credentialsFile == "" {
		credentialsFile, required = DefaultCredentialsFile(), false
	}
	if credentialsFile != "" {
		if err := loadCredentialsFile(k, credentialsFile, opts.Profile, required); err != nil {
			return nil, err
		}
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, envPrefix)
			return strings.ReplaceAll(strings.ToLower(key), "__", "."), value
		},
		EnvironFunc: environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"client.timeout":           "30s",
		"client.max_backoff":       "0s",
		"client.transient_retries": 1,
		"client.rate_limit":        0.0,
		"client.rate_burst":        1,

		"log.level":  "info",
		"log.pretty": false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

func loadCredentialsFile(k *koanf.Koanf, path, profile string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open credentials file: %w", err)
	}

	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	if profile == "" {
		profile = defaultProfile
	}
	section, err := f.GetSection(profile)
	if err != nil {
		return nestError(ErrInvalidConfig, "credentials file %s: %w", path, err)
	}

	values := make(map[string]any)
	for key, value := range section.KeysHash() {
		values[key] = value
	}

	return k.Load(confmap.Provider(values, "."), nil)
}

// UsesToken reports whether the OAuth client credentials variant is configured.
func (c *Config) UsesToken() bool {
	return c.ClientID != ""
}

func (c *Config) Validate() error {
	var missing []string
	for _, f := range []struct {
		key, value string
	}{
		{"access_key_id", c.AccessKeyID},
		{"secret_access_key", c.SecretAccessKey},
	} {
		if f.value == "" {
			missing = append(missing, f.key)
		}
	}

	if c.UsesToken() {
		if c.ClientSecret == "" {
			missing = append(missing, "client_secret")
		}
		if c.AuthEndpoint == "" {
			missing = append(missing, "auth_endpoint")
		}
	} else if c.APIKey == "" {
		missing = append(missing, "api_key")
	}

	if len(missing) > 0 {
		return nestError(ErrInvalidConfig, "missing %s", strings.Join(missing, ", "))
	}

	if c.Client.Timeout < 0 || c.Client.MaxBackoff < 0 {
		return nestError(ErrInvalidConfig, "durations must not be negative")
	}
	if c.Client.TransientRetries < 0 {
		return nestError(ErrInvalidConfig, "transient_retries must not be negative")
	}
	if c.Client.RateLimit < 0 || (c.Client.RateLimit > 0 && c.Client.RateBurst < 1) {
		return nestError(ErrInvalidConfig, "rate_limit %v with burst %d", c.Client.RateLimit, c.Client.RateBurst)
	}

	return nil
}

// credentials returns the static signing material. api_key is dropped in the
// token variant, where the bearer token takes its header.
func (c *Config) credentials() Credentials {
	creds := Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
	}
	if !c.UsesToken() {
		creds.APIKey = c.APIKey
	}
	return creds
}

// Source returns the credential source for the configured variant. Token
// requests go through t.
func (c *Config) Source(t Transport) CredentialSource {
	if c.UsesToken() {
		return NewTokenCredentials(c.credentials(), NewClientCredentialsFetcher(t, c.AuthEndpoint, c.ClientID, c.ClientSecret))
	}
	return StaticCredentials(c.credentials())
}

// RetryPolicy returns the default schedule bounded by the configured limits.
func (c *Config) RetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.TransientRetries = c.Client.TransientRetries
	p.MaxBackoff = c.Client.MaxBackoff
	return p
}

// NewExecutorFromConfig wires an HTTP transport, the credential source,
// retry policy, optional rate limit and the logger from cfg.
func NewExecutorFromConfig(cfg *Config, log zerolog.Logger) *Executor {
	t := NewHTTPTransport(cfg.Client.Timeout)

	opts := []Option{
		WithRetryPolicy(cfg.RetryPolicy()),
		WithLogger(log),
	}
	if cfg.Client.RateLimit > 0 {
		opts = append(opts, WithRateLimit(rate.Limit(cfg.Client.RateLimit), cfg.Client.RateBurst))
	}

	return NewExecutor(t, cfg.Source(t), opts...)
}
