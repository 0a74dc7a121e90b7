// Package config loads client settings from defaults, a TOML file, a .env file
// and CAREBRIDGE_* environment variables, in that order of precedence (last wins).
// Command-line flags are applied on top by main.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL  = "http://localhost:8000"
	DefaultUserID  = "demo_user"
	DefaultTimeout = 60 * time.Second
	DefaultEmotion = "comfort"
)

type Config struct {
	API       APIConfig       `toml:"api"`
	Storage   StorageConfig   `toml:"storage"`
	Voice     VoiceConfig     `toml:"voice"`
	Assistant AssistantConfig `toml:"assistant"`
}

type APIConfig struct {
	URL     string   `toml:"url"`
	UserID  string   `toml:"user_id"`
	Timeout Duration `toml:"timeout"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type VoiceConfig struct {
	Format   string `toml:"format"` // flac or wav
	Emotion  string `toml:"emotion"`
	AutoStop bool   `toml:"auto_stop"`
	Beep     bool   `toml:"beep"`
}

type AssistantConfig struct {
	Locale    string `toml:"locale"` // ko or en
	RulesFile string `toml:"rules_file"`
	Greeting  bool   `toml:"greeting"`
}

// Duration is a time.Duration that decodes from TOML strings like "45s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:     DefaultAPIURL,
			UserID:  DefaultUserID,
			Timeout: Duration{DefaultTimeout},
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Voice: VoiceConfig{
			Format:  "flac",
			Emotion: DefaultEmotion,
			Beep:    true,
		},
		Assistant: AssistantConfig{Locale: "ko"},
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "carebridge")
}

// DefaultPath is where Load looks when no --config flag is given.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

// Load builds a Config from defaults, the TOML file at path and the environment.
// A missing file is only an error when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	path = os.ExpandEnv(path)
	if path != "" {
		_, err := toml.DecodeFile(path, cfg)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist) && !required:
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("config file not found: %s", path)
		default:
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv reads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) ApplyEnv() error {
	if v := os.Getenv("CAREBRIDGE_API_URL"); v != "" {
		c.API.URL = v
	}
	if v := os.Getenv("CAREBRIDGE_USER_ID"); v != "" {
		c.API.UserID = v
	}
	if v := os.Getenv("CAREBRIDGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CAREBRIDGE_TIMEOUT: %w", err)
		}
		c.API.Timeout = Duration{d}
	}
	if v := os.Getenv("CAREBRIDGE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("CAREBRIDGE_LOCALE"); v != "" {
		c.Assistant.Locale = strings.ToLower(v)
	}
	return nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid api url %q", c.API.URL)
	}
	if c.API.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.API.Timeout.Duration)
	}
	if strings.TrimSpace(c.API.UserID) == "" {
		return errors.New("user id must not be empty")
	}
	switch c.Voice.Format {
	case "flac", "wav":
	default:
		return fmt.Errorf("unknown audio format %q (want flac or wav)", c.Voice.Format)
	}
	switch c.Assistant.Locale {
	case "ko", "en":
	default:
		return fmt.Errorf("unknown locale %q (want ko or en)", c.Assistant.Locale)
	}
	if c.Storage.DataDir == "" {
		return errors.New("data dir must not be empty")
	}
	return nil
}

// SettingsPath is the sqlite file holding saved preferences.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Storage.DataDir, "settings.db")
}
