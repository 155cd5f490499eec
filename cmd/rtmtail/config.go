package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sonirico/librtm"
)

const tokenEnv = "RTM_TOKEN"

// appConfig is everything rtmtail needs to run.
type appConfig struct {
	Client   librtm.Config
	Channel  string
	LogLevel zerolog.Level
	JSONLogs bool
}

func defaultAppConfig() appConfig {
	cfg := librtm.DefaultConfig()
	cfg.PingInterval = 30 * time.Second
	cfg.MaxBackoff = 5 * time.Minute
	cfg.MinUptime = 10 * time.Second
	return appConfig{
		Client:   cfg,
		LogLevel: zerolog.InfoLevel,
	}
}

// fileConfig mirrors the on-disk layout. Durations are strings such as "30s".
type fileConfig struct {
	APIURL           string `toml:"api_url" yaml:"api_url"`
	Token            string `toml:"token" yaml:"token"`
	Channel          string `toml:"channel" yaml:"channel"`
	SendTimeout      string `toml:"send_timeout" yaml:"send_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     string `toml:"write_timeout" yaml:"write_timeout"`
	BootstrapTimeout string `toml:"bootstrap_timeout" yaml:"bootstrap_timeout"`
	PingInterval     string `toml:"ping_interval" yaml:"ping_interval"`
	MaxBackoff       string `toml:"max_backoff" yaml:"max_backoff"`
	MinUptime        string `toml:"min_uptime" yaml:"min_uptime"`
	MaxPending       *int   `toml:"max_pending" yaml:"max_pending"`
	LogLevel         string `toml:"log_level" yaml:"log_level"`
	LogFormat        string `toml:"log_format" yaml:"log_format"`
}

// loadConfig reads path (.toml, .yaml or .yml) over the defaults. An empty
// path yields the defaults. The RTM_TOKEN environment variable wins over the
// file.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	if path != "" {
		raw, err := readFileConfig(path)
		if err != nil {
			return appConfig{}, err
		}
		if err := raw.apply(&cfg); err != nil {
			return appConfig{}, errors.Wrapf(err, "config %s", path)
		}
	}

	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
		cfg.Client.Token = token
	}

	return cfg, nil
}

func readFileConfig(path string) (fileConfig, error) {
	var raw fileConfig

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return fileConfig{}, errors.Wrap(err, "load toml config")
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fileConfig{}, errors.Wrap(err, "read yaml config")
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fileConfig{}, errors.Wrap(err, "load yaml config")
		}
	default:
		return fileConfig{}, errors.Errorf("unsupported config extension %q", ext)
	}

	return raw, nil
}

func (f fileConfig) apply(cfg *appConfig) error {
	if v := strings.TrimSpace(f.APIURL); v != "" {
		cfg.Client.APIURL = v
	}
	if v := strings.TrimSpace(f.Token); v != "" {
		cfg.Client.Token = v
	}
	if v := strings.TrimSpace(f.Channel); v != "" {
		cfg.Channel = v
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"send_timeout", f.SendTimeout, &cfg.Client.SendTimeout},
		{"handshake_timeout", f.HandshakeTimeout, &cfg.Client.HandshakeTimeout},
		{"write_timeout", f.WriteTimeout, &cfg.Client.WriteTimeout},
		{"bootstrap_timeout", f.BootstrapTimeout, &cfg.Client.BootstrapTimeout},
		{"ping_interval", f.PingInterval, &cfg.Client.PingInterval},
		{"max_backoff", f.MaxBackoff, &cfg.Client.MaxBackoff},
		{"min_uptime", f.MinUptime, &cfg.Client.MinUptime},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.value)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s", d.key)
		}
		*d.dst = parsed
	}

	if f.MaxPending != nil {
		cfg.Client.MaxPending = *f.MaxPending
	}

	if v := strings.TrimSpace(f.LogLevel); v != "" {
		level, err := zerolog.ParseLevel(v)
		if err != nil {
			return errors.Wrap(err, "parse log_level")
		}
		cfg.LogLevel = level
	}

	switch strings.ToLower(strings.TrimSpace(f.LogFormat)) {
	case "", "console":
		cfg.JSONLogs = false
	case "json":
		cfg.JSONLogs = true
	default:
		return errors.Errorf("unknown log_format %q", f.LogFormat)
	}

	return nil
}
