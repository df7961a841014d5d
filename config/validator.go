package config

import (
	"fmt"
	"net"
	"net/url"
)

// Validate checks cfg and fills in defaults for zero values.
func Validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return fmt.Errorf("address %q must be host:port: %w", cfg.Address, err)
	}

	if cfg.PublicURL != "" {
		u, err := url.Parse(cfg.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("public_url must be an absolute http(s) URL")
		}
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return fmt.Errorf("cert and key must be set together")
	}

	if cfg.Compose.MaxUpload < 0 {
		return fmt.Errorf("compose.max_upload must be >= 0")
	}
	if cfg.Compose.MaxUpload == 0 {
		cfg.Compose.MaxUpload = Default().Compose.MaxUpload
	}
	if cfg.Compose.MaxPixels <= 0 {
		cfg.Compose.MaxPixels = Default().Compose.MaxPixels
	}
	if cfg.Compose.Timeout <= 0 {
		cfg.Compose.Timeout = Default().Compose.Timeout
	}
	if cfg.Compose.MaxConcurrent < 0 {
		return fmt.Errorf("compose.max_concurrent must be >= 0")
	}
	if cfg.Compose.MaxConcurrent == 0 {
		cfg.Compose.MaxConcurrent = Default().Compose.MaxConcurrent
	}

	if cfg.Store.TTL <= 0 {
		cfg.Store.TTL = Default().Store.TTL
	}
	if cfg.Store.MaxEntries <= 0 {
		cfg.Store.MaxEntries = Default().Store.MaxEntries
	}

	if cfg.Database.DSN != "" && cfg.Database.Name == "" {
		cfg.Database.Name = Default().Database.Name
	}

	if (cfg.Mail.Domain == "") != (cfg.Mail.APIKey == "") {
		return fmt.Errorf("mail.domain and mail.api_key must be set together")
	}
	if cfg.MailEnabled() && cfg.Mail.From == "" {
		cfg.Mail.From = "noreply@" + cfg.Mail.Domain
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = Default().ShutdownTimeout
	}

	return nil
}
