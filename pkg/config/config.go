package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// ErrMissingToken is returned by Validate when no platform credential is set.
var ErrMissingToken = errors.New("platform token is not set (config platform.token or GOVORUN_TOKEN)")

type Config struct {
	Platform PlatformConfig `json:"platform"`
	Voice    VoiceConfig    `json:"voice"`
	Store    StoreConfig    `json:"store"`
}

// PlatformConfig holds the messaging platform credential and the long-poll
// timing budget. Wait is the server-side hold time in seconds; HTTPTimeout
// bounds the whole request and must exceed Wait.
type PlatformConfig struct {
	Token       string `json:"token"        env:"GOVORUN_TOKEN"`
	GroupID     int64  `json:"group_id"     env:"GOVORUN_GROUP_ID"`
	APIBase     string `json:"api_base"     env:"GOVORUN_API_BASE"`
	APIVersion  string `json:"api_version"  env:"GOVORUN_API_VERSION"`
	Wait        int    `json:"wait"         env:"GOVORUN_LONGPOLL_WAIT"`
	HTTPTimeout int    `json:"http_timeout" env:"GOVORUN_HTTP_TIMEOUT"`
}

type VoiceConfig struct {
	SynthURL      string `json:"synth_url"       env:"GOVORUN_SYNTH_URL"`
	MaxTextLength int    `json:"max_text_length" env:"GOVORUN_MAX_TEXT_LENGTH"`
}

type StoreConfig struct {
	Path         string `json:"path"           env:"GOVORUN_DB_PATH"`
	FirstAdminID int64  `json:"first_admin_id" env:"GOVORUN_FIRST_ADMIN_ID"`
}

func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			APIBase:     "https://api.vk.com/method",
			APIVersion:  "5.131",
			Wait:        25,
			HTTPTimeout: 30,
		},
		Voice: VoiceConfig{
			SynthURL:      "http://127.0.0.1:5000",
			MaxTextLength: 1000,
		},
		Store: StoreConfig{
			Path: "govorun.db",
		},
	}
}

// LoadConfig reads a JSON config file, then applies environment overrides.
// A missing file is not an error; defaults plus environment apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the fields the gateway cannot start without.
func (c *Config) Validate() error {
	if c.Platform.Token == "" {
		return ErrMissingToken
	}
	if c.Platform.Wait <= 0 {
		return fmt.Errorf("platform.wait must be positive, got %d", c.Platform.Wait)
	}
	if c.Platform.HTTPTimeout <= c.Platform.Wait {
		return fmt.Errorf("platform.http_timeout (%d) must exceed platform.wait (%d)",
			c.Platform.HTTPTimeout, c.Platform.Wait)
	}
	if c.Voice.MaxTextLength <= 0 {
		return fmt.Errorf("voice.max_text_length must be positive, got %d", c.Voice.MaxTextLength)
	}
	return nil
}
