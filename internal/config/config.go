package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied to zero-valued fields on load.
const (
	DefaultChatPort            = 8765
	DefaultPollIntervalSeconds = 30
	DefaultPeerRefreshSeconds  = 30
	DefaultInitTimeoutSeconds  = 5
)

// Config represents the global ~/.ipchat/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	// DeviceName is the advertised display name; empty means hostname.
	DeviceName string `toml:"device_name"`

	// ChatPort is the TCP port for the LAN transport and the port
	// announced over mDNS.
	ChatPort int `toml:"chat_port"`

	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	PeerRefreshSeconds  int `toml:"peer_refresh_seconds"`
	InitTimeoutSeconds  int `toml:"init_timeout_seconds"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ChatPort == 0 {
		c.ChatPort = DefaultChatPort
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.PeerRefreshSeconds <= 0 {
		c.PeerRefreshSeconds = DefaultPeerRefreshSeconds
	}
	if c.InitTimeoutSeconds <= 0 {
		c.InitTimeoutSeconds = DefaultInitTimeoutSeconds
	}
}

// PollInterval returns the full-state poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PeerRefresh returns the mDNS browse cadence.
func (c *Config) PeerRefresh() time.Duration {
	return time.Duration(c.PeerRefreshSeconds) * time.Second
}

// InitTimeout bounds the initial full poll during session initialization.
func (c *Config) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSeconds) * time.Second
}

// Load reads config from the given path. Returns error if file missing;
// zero-valued fields are filled with defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
