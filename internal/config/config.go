package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvBackendURL     = "TLK_BACKEND_URL"
	EnvBackendToken   = "TLK_BACKEND_TOKEN"
	EnvRealtimeURL    = "TLK_REALTIME_URL"
	EnvRealtimeDriver = "TLK_REALTIME_DRIVER"
	EnvLogLevel       = "TLK_LOG_LEVEL"
)

// Config represents the global ~/.tlk/config.toml.
type Config struct {
	DefaultSession string         `toml:"default_session"`
	Backend        BackendConfig  `toml:"backend"`
	Realtime       RealtimeConfig `toml:"realtime"`
	Call           CallConfig     `toml:"call"`
	Media          MediaConfig    `toml:"media"`
	Log            LogConfig      `toml:"log"`
}

type BackendConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

type RealtimeConfig struct {
	// Driver is "websocket" or "nats".
	Driver        string   `toml:"driver"`
	URL           string   `toml:"url"`
	RefreshMargin Duration `toml:"refresh_margin"`
}

type CallConfig struct {
	AcceptDelay  Duration `toml:"accept_delay"`
	ConnectDelay Duration `toml:"connect_delay"`
	EndedWindow  Duration `toml:"ended_window"`
	RingTimeout  Duration `toml:"ring_timeout"`
	SignalBusy   bool     `toml:"signal_busy"`
}

// MediaConfig declares which capture devices the daemon may use.
type MediaConfig struct {
	Microphone bool `toml:"microphone"`
	Camera     bool `toml:"camera"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string ("1.5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Backend: BackendConfig{
			Timeout: Duration{15 * time.Second},
		},
		Realtime: RealtimeConfig{
			Driver:        "websocket",
			RefreshMargin: Duration{time.Minute},
		},
		Call: CallConfig{
			AcceptDelay:  Duration{1500 * time.Millisecond},
			ConnectDelay: Duration{time.Second},
			EndedWindow:  Duration{2 * time.Second},
			RingTimeout:  Duration{45 * time.Second},
			SignalBusy:   true,
		},
		Media: MediaConfig{Microphone: true, Camera: true},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overrides cfg from the environment. Variables in envFile are
// loaded first without replacing ones already set; a missing envFile is not
// an error.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Backend.URL, EnvBackendURL)
	set(&cfg.Backend.Token, EnvBackendToken)
	set(&cfg.Realtime.URL, EnvRealtimeURL)
	set(&cfg.Realtime.Driver, EnvRealtimeDriver)
	set(&cfg.Log.Level, EnvLogLevel)
	return nil
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is not set (or %s)", EnvBackendURL)
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("realtime.url is not set (or %s)", EnvRealtimeURL)
	}
	switch c.Realtime.Driver {
	case "websocket", "nats":
	default:
		return fmt.Errorf("realtime.driver %q: want websocket or nats", c.Realtime.Driver)
	}
	for name, d := range map[string]Duration{
		"call.accept_delay":  c.Call.AcceptDelay,
		"call.connect_delay": c.Call.ConnectDelay,
		"call.ended_window":  c.Call.EndedWindow,
		"call.ring_timeout":  c.Call.RingTimeout,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
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
