// Package config loads and validates the mirror configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile  = "config.yaml"
	DefaultJournalPath = ".tweetmirror/journal.db"
	DefaultMaxItems    = 200
	DefaultTimeout     = 30 * time.Second

	KindTimeline = "timeline"
	KindRSS      = "rss"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Store      StoreConfig      `yaml:"store"`
	Journal    JournalConfig    `yaml:"journal"`
	Identities []IdentityConfig `yaml:"identities"`
}

type UpstreamConfig struct {
	TokenEnv string   `yaml:"token_env"`
	Timeout  Duration `yaml:"timeout"`

	// Resolved from the env var at load time.
	Token string `yaml:"-"`
}

type StoreConfig struct {
	BaseURL string `yaml:"base_url"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig maps one upstream source onto one downstream identity.
type IdentityConfig struct {
	Source        string   `yaml:"source"` // handle for timeline, feed URL for rss
	Kind          string   `yaml:"kind"`
	Address       string   `yaml:"address"`
	SigningKeyEnv string   `yaml:"signing_key_env"`
	CollectMedia  bool     `yaml:"collect_media"`
	SkipAuthors   []string `yaml:"skip_authors"`
	MaxItems      int      `yaml:"max_items"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath
	}
	if cfg.Upstream.Timeout.Duration == 0 {
		cfg.Upstream.Timeout.Duration = DefaultTimeout
	}
	for i := range cfg.Identities {
		id := &cfg.Identities[i]
		if id.Kind == "" {
			id.Kind = KindTimeline
		}
		if id.MaxItems == 0 {
			id.MaxItems = DefaultMaxItems
		}
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Upstream.TokenEnv != "" {
		cfg.Upstream.Token = os.Getenv(cfg.Upstream.TokenEnv)
	}
}

func validate(cfg *Config) error {
	if cfg.Store.BaseURL == "" {
		return errors.New("store.base_url is required")
	}
	if len(cfg.Identities) == 0 {
		return errors.New("identities: at least one identity must be configured")
	}

	needsToken := false
	for i, id := range cfg.Identities {
		if id.Source == "" {
			return fmt.Errorf("identities[%d].source is required", i)
		}
		if id.Address == "" {
			return fmt.Errorf("identities[%d].address is required", i)
		}
		if id.SigningKeyEnv == "" {
			return fmt.Errorf("identities[%d].signing_key_env is required", i)
		}
		switch id.Kind {
		case KindTimeline:
			needsToken = true
		case KindRSS:
			// no upstream token needed
		default:
			return fmt.Errorf("identities[%d].kind: unknown kind %q (want timeline or rss)", i, id.Kind)
		}
		if id.MaxItems < 0 {
			return fmt.Errorf("identities[%d].max_items must not be negative", i)
		}
	}

	if needsToken && cfg.Upstream.TokenEnv == "" {
		return errors.New("upstream.token_env is required when a timeline identity is configured")
	}

	return nil
}
