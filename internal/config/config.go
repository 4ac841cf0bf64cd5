// Package config loads the two INI files driving a load run: the
// Asterisk connection settings and the call scenario parameters.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// ARI describes how to reach the Asterisk REST interface.
type ARI struct {
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	Username string `ini:"username"`
	Secret   string `ini:"secret"`
	App      string `ini:"app"`
}

// URL returns the host:port pair the ARI client dials.
func (a ARI) URL() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Calls describes the origination load.
type Calls struct {
	Count    int    `ini:"count"`
	Driver   string `ini:"driver"`
	Trunk    string `ini:"trunk"`
	Phone    string `ini:"phone"`
	CallerID string `ini:"callerid"`

	// CallsPerSecond is optional; zero means originate as fast as the
	// concurrency bound allows.
	CallsPerSecond float64 `ini:"cps"`

	// SoundsDir overrides the prompt directory next to the executable.
	SoundsDir string `ini:"sounds_dir"`
}

// Media locates the UDP sink receiving external-media audio.
type Media struct {
	Host string `ini:"host"`
	Port int    `ini:"port"`
}

// Ops configures the optional operational HTTP endpoint. An empty Listen
// disables it.
type Ops struct {
	Listen string `ini:"listen"`
}

// Log configures log output.
type Log struct {
	Level  string `ini:"level"`
	Format string `ini:"format"`
}

// Config is the merged runtime configuration.
type Config struct {
	ARI   ARI
	Calls Calls
	Media Media
	Ops   Ops
	Log   Log
}

// defaults
const (
	defaultARIPort   = 8088
	defaultDriver    = "PJSIP"
	defaultMediaHost = "127.0.0.1"
	defaultMediaPort = 55444
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
)

// Load reads the Asterisk connection file and the calls file, applies
// defaults and validates the result.
func Load(asteriskPath, callsPath string) (*Config, error) {
	cfg := &Config{
		ARI:   ARI{Port: defaultARIPort},
		Calls: Calls{Driver: defaultDriver},
		Media: Media{Host: defaultMediaHost, Port: defaultMediaPort},
		Log:   Log{Level: defaultLogLevel, Format: defaultLogFormat},
	}

	asterisk, err := ini.Load(asteriskPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", asteriskPath, err)
	}
	if err := asterisk.Section("ari").MapTo(&cfg.ARI); err != nil {
		return nil, fmt.Errorf("parsing [ari] in %s: %w", asteriskPath, err)
	}

	calls, err := ini.Load(callsPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", callsPath, err)
	}
	if err := calls.Section("calls").MapTo(&cfg.Calls); err != nil {
		return nil, fmt.Errorf("parsing [calls] in %s: %w", callsPath, err)
	}
	if calls.HasSection("media") {
		if err := calls.Section("media").MapTo(&cfg.Media); err != nil {
			return nil, fmt.Errorf("parsing [media] in %s: %w", callsPath, err)
		}
	}
	if calls.HasSection("ops") {
		if err := calls.Section("ops").MapTo(&cfg.Ops); err != nil {
			return nil, fmt.Errorf("parsing [ops] in %s: %w", callsPath, err)
		}
	}
	if calls.HasSection("log") {
		if err := calls.Section("log").MapTo(&cfg.Log); err != nil {
			return nil, fmt.Errorf("parsing [log] in %s: %w", callsPath, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.ARI.Host == "" {
		return fmt.Errorf("[ari] host is required")
	}
	if c.ARI.Port < 1 || c.ARI.Port > 65535 {
		return fmt.Errorf("[ari] port must be between 1 and 65535, got %d", c.ARI.Port)
	}
	if c.ARI.Username == "" || c.ARI.Secret == "" {
		return fmt.Errorf("[ari] username and secret are required")
	}
	if c.ARI.App == "" {
		return fmt.Errorf("[ari] app is required")
	}

	if c.Calls.Count < 1 {
		return fmt.Errorf("[calls] count must be positive, got %d", c.Calls.Count)
	}
	if c.Calls.Trunk == "" {
		return fmt.Errorf("[calls] trunk is required")
	}
	if c.Calls.Phone == "" {
		return fmt.Errorf("[calls] phone is required")
	}
	if c.Calls.CallsPerSecond < 0 {
		return fmt.Errorf("[calls] cps must not be negative, got %g", c.Calls.CallsPerSecond)
	}

	if c.Media.Port < 1 || c.Media.Port > 65535 {
		return fmt.Errorf("[media] port must be between 1 and 65535, got %d", c.Media.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("[log] level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	c.Log.Level = strings.ToLower(c.Log.Level)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("[log] format must be one of text, json; got %q", c.Log.Format)
	}
	c.Log.Format = strings.ToLower(c.Log.Format)

	return nil
}

// SlogHandler returns a slog.Handler for the configured format and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Log.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
