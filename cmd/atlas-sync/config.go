package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// config is the on-disk shape of an atlas-sync config file, decoded from
// TOML by loadConfig(path, &cfg).
type config struct {
	Peers                   []string `toml:"peers"`
	DBPath                  string   `toml:"db_path"`
	DBTTLSeconds            int64    `toml:"db_ttl_seconds"`
	MaxInflightAttachments  int      `toml:"max_inflight_attachments"`
	MaxAttachmentRetryCount uint64   `toml:"max_attachment_retry_count"`
	DNSTimeoutSeconds       int64    `toml:"dns_timeout_seconds"`
	TickIntervalSeconds     int64    `toml:"tick_interval_seconds"`
}

func loadConfig(path string, cfg *config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./atlas-db"
	}
	if cfg.DBTTLSeconds <= 0 {
		cfg.DBTTLSeconds = 86400
	}
	if cfg.MaxInflightAttachments <= 0 {
		cfg.MaxInflightAttachments = 6
	}
	if cfg.MaxAttachmentRetryCount == 0 {
		cfg.MaxAttachmentRetryCount = 5
	}
	if cfg.DNSTimeoutSeconds <= 0 {
		cfg.DNSTimeoutSeconds = 15
	}
	if cfg.TickIntervalSeconds <= 0 {
		cfg.TickIntervalSeconds = 1
	}
	return nil
}

func (c config) dbTTL() time.Duration          { return time.Duration(c.DBTTLSeconds) * time.Second }
func (c config) dnsTimeout() time.Duration      { return time.Duration(c.DNSTimeoutSeconds) * time.Second }
func (c config) tickInterval() time.Duration    { return time.Duration(c.TickIntervalSeconds) * time.Second }
