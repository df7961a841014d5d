package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Carbon-X-DAO/LayerStack/fsutil"
)

// Config is everything cmd/server needs. It can be read from a YAML file
// and every field can also be set by a flag.
type Config struct {
	Address   string `yaml:"address"`
	PublicURL string `yaml:"public_url"`
	CertFile  string `yaml:"cert"`
	KeyFile   string `yaml:"key"`

	Compose  ComposeConfig  `yaml:"compose"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Mail     MailConfig     `yaml:"mail"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ComposeConfig struct {
	MaxUpload     fsutil.Size   `yaml:"max_upload"`
	MaxPixels     int           `yaml:"max_pixels"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

type StoreConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// DatabaseConfig enables the composition log when DSN is set.
type DatabaseConfig struct {
	DSN  string `yaml:"dsn"`
	Name string `yaml:"name"`
}

// MailConfig enables e-mail delivery when Domain and APIKey are set.
type MailConfig struct {
	Domain string `yaml:"domain"`
	APIKey string `yaml:"api_key"`
	From   string `yaml:"from"`
	EU     bool   `yaml:"eu"`
}

func Default() Config {
	return Config{
		Address: "0.0.0.0:80",
		Compose: ComposeConfig{
			MaxUpload:     40 * 1024 * 1024,
			MaxPixels:     64 << 20,
			Timeout:       30 * time.Second,
			MaxConcurrent: 4,
		},
		Store: StoreConfig{
			TTL:        15 * time.Minute,
			MaxEntries: 256,
		},
		Database: DatabaseConfig{
			Name: "layerstack",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load reads path over cfg, so unset keys keep their current values.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) MailEnabled() bool {
	return c.Mail.Domain != "" && c.Mail.APIKey != ""
}

func (c *Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
