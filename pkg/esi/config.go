package esi

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"evetrade-sync/pkg/confkit"
)

// Config describes the ESI endpoint and the client's retry/backoff budget.
type Config struct {
	BaseURL    string `yaml:"base_url"`
	Datasource string `yaml:"datasource"`
	UserAgent  string `yaml:"user_agent"`

	HTTPTimeoutRaw    string        `yaml:"http_timeout"`
	HTTPTimeout       time.Duration `yaml:"-"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoffRaw string        `yaml:"initial_backoff"`
	InitialBackoff    time.Duration `yaml:"-"`
	MaxBackoffRaw     string        `yaml:"max_backoff"`
	MaxBackoff        time.Duration `yaml:"-"`

	// ErrorLimitThreshold is the X-Esi-Error-Limit-Remain floor below which
	// the client pauses before issuing the next request.
	ErrorLimitThreshold int `yaml:"error_limit_threshold"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig carries the SSO credentials for authed (structure market)
// endpoints. All fields support ${ENV} expansion.
type AuthConfig struct {
	ClientID     string `yaml:"client_id"`
	SecretKey    string `yaml:"secret_key"`
	RefreshToken string `yaml:"refresh_token"`
	TokenURL     string `yaml:"token_url"`
	Callback     string `yaml:"callback"`
}

// Enabled reports whether structure-market auth is configured at all.
func (a AuthConfig) Enabled() bool {
	return a.ClientID != "" && a.SecretKey != "" && a.RefreshToken != ""
}

// LoadConfig reads an ESI config file from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open esi config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read esi config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal esi config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	c.BaseURL = strings.TrimSpace(os.ExpandEnv(c.BaseURL))
	c.Datasource = strings.TrimSpace(os.ExpandEnv(c.Datasource))
	c.UserAgent = strings.TrimSpace(os.ExpandEnv(c.UserAgent))
	c.Auth.ClientID = strings.TrimSpace(os.ExpandEnv(c.Auth.ClientID))
	c.Auth.SecretKey = strings.TrimSpace(os.ExpandEnv(c.Auth.SecretKey))
	c.Auth.RefreshToken = strings.TrimSpace(os.ExpandEnv(c.Auth.RefreshToken))
	c.Auth.TokenURL = strings.TrimSpace(os.ExpandEnv(c.Auth.TokenURL))
	c.Auth.Callback = strings.TrimSpace(os.ExpandEnv(c.Auth.Callback))

	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{c.HTTPTimeoutRaw, &c.HTTPTimeout, "http_timeout"},
		{c.InitialBackoffRaw, &c.InitialBackoff, "initial_backoff"},
		{c.MaxBackoffRaw, &c.MaxBackoff, "max_backoff"},
	} {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("esi config: parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}
