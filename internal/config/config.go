// Package config loads process settings from an optional YAML file over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"LocalAnimator/internal/state"
)

type Config struct {
	Relay    Relay    `yaml:"relay"`
	Client   Client   `yaml:"client"`
	Sync     Sync     `yaml:"sync"`
	Playback Playback `yaml:"playback"`
	Log      Log      `yaml:"log"`
	Project  Project  `yaml:"project"`
}

type Relay struct {
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Advertise bool   `yaml:"advertise"`
}

type Client struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Reconnect Reconnect     `yaml:"reconnect"`
}

type Reconnect struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"maxDelay"`
}

type Sync struct {
	Debounce time.Duration `yaml:"debounce"`
}

type Playback struct {
	Loop bool `yaml:"loop"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Project seeds the relay's session when it starts.
type Project struct {
	Name     string  `yaml:"name"`
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	FPS      int     `yaml:"fps"`
	Duration float64 `yaml:"duration"`
}

func Default() Config {
	ps := state.DefaultSettings()
	return Config{
		Relay: Relay{Addr: ":3003", Path: "/ws"},
		Client: Client{
			URL:       "ws://localhost:3003/ws",
			Timeout:   5 * time.Second,
			Reconnect: Reconnect{Attempts: 5, Delay: time.Second, MaxDelay: 5 * time.Second},
		},
		Sync:     Sync{Debounce: 100 * time.Millisecond},
		Playback: Playback{Loop: true},
		Log:      Log{Level: "info", Format: "text"},
		Project: Project{
			Name:     "Untitled",
			Width:    ps.Width,
			Height:   ps.Height,
			FPS:      ps.FPS,
			Duration: ps.Duration,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Relay.Addr == "" {
		errs = append(errs, errors.New("relay.addr is empty"))
	}
	if !strings.HasPrefix(c.Relay.Path, "/") {
		errs = append(errs, fmt.Errorf("relay.path %q must start with /", c.Relay.Path))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout))
	}
	if c.Client.Reconnect.Attempts < 1 {
		errs = append(errs, fmt.Errorf("client.reconnect.attempts must be at least 1, got %d", c.Client.Reconnect.Attempts))
	}
	if c.Sync.Debounce < 0 {
		errs = append(errs, fmt.Errorf("sync.debounce is negative: %s", c.Sync.Debounce))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	p := c.Project
	if p.Width <= 0 || p.Height <= 0 {
		errs = append(errs, fmt.Errorf("project size must be positive, got %dx%d", p.Width, p.Height))
	}
	if p.FPS <= 0 {
		errs = append(errs, fmt.Errorf("project.fps must be positive, got %d", p.FPS))
	}
	if p.Duration <= 0 {
		errs = append(errs, fmt.Errorf("project.duration must be positive, got %g", p.Duration))
	}
	return errors.Join(errs...)
}

func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

func (p Project) Settings() state.ProjectSettings {
	return state.ProjectSettings{Width: p.Width, Height: p.Height, FPS: p.FPS, Duration: p.Duration}
}
