package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"quiltmaker/internal/sorter"
)

const (
	defaultPort              = 8080
	defaultMaxConcurrentJobs = 1
	defaultTileWorkers       = 4
	defaultLogLevel          = "info"
)

var ErrUnknownDisplay = errors.New("unknown display")

// Display is a named quilt grid for a light-field display model.
type Display struct {
	Name    string `yaml:"name" json:"name"`
	Columns int    `yaml:"columns" json:"columns"`
	Rows    int    `yaml:"rows" json:"rows"`
}

// Config describes runtime configuration for the service and the CLI.
type Config struct {
	Port              int       `yaml:"port"`
	MaxConcurrentJobs int       `yaml:"max_concurrent_jobs"`
	TileWorkers       int       `yaml:"tile_workers"`
	FFmpegPath        string    `yaml:"ffmpeg_path"`
	DefaultFramerate  int       `yaml:"default_framerate"`
	Collision         string    `yaml:"collision"`
	LogLevel          string    `yaml:"log_level"`
	OpenBrowser       bool      `yaml:"open_browser"`
	Displays          []Display `yaml:"displays"`
}

// DefaultDisplays are the grids of the common Looking Glass models.
func DefaultDisplays() []Display {
	return []Display{
		{Name: "Looking Glass Go", Columns: 11, Rows: 6},
		{Name: "Portrait", Columns: 8, Rows: 6},
		{Name: `16" Landscape`, Columns: 7, Rows: 7},
		{Name: `16" Portrait`, Columns: 11, Rows: 6},
		{Name: `32" Landscape`, Columns: 7, Rows: 7},
		{Name: `32" Portrait`, Columns: 11, Rows: 6},
		{Name: `65"`, Columns: 8, Rows: 9},
	}
}

func Default() Config {
	return Config{
		Port:              defaultPort,
		MaxConcurrentJobs: defaultMaxConcurrentJobs,
		TileWorkers:       defaultTileWorkers,
		Collision:         string(sorter.CollisionOverwrite),
		LogLevel:          defaultLogLevel,
		Displays:          DefaultDisplays(),
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	// basic normalization
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if len(cfg.Displays) == 0 {
		cfg.Displays = DefaultDisplays()
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 1)", c.MaxConcurrentJobs)
	}
	if c.TileWorkers < 1 {
		return fmt.Errorf("invalid tile_workers: %d (must be >= 1)", c.TileWorkers)
	}
	if c.DefaultFramerate < 0 {
		return fmt.Errorf("invalid default_framerate: %d (must be >= 0)", c.DefaultFramerate)
	}
	if _, err := sorter.ParseCollision(c.Collision); err != nil {
		return fmt.Errorf("invalid collision: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Displays))
	for _, d := range c.Displays {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if key == "" {
			return errors.New("display without name")
		}
		if d.Columns <= 0 || d.Rows <= 0 {
			return fmt.Errorf("invalid display %q: %dx%d", d.Name, d.Columns, d.Rows)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate display %q", d.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Level parses LogLevel into a zerolog level.
func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Display finds a preset by name, ignoring case and surrounding spaces.
func (c Config) Display(name string) (Display, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, d := range c.Displays {
		if strings.ToLower(strings.TrimSpace(d.Name)) == key {
			return d, nil
		}
	}
	return Display{}, fmt.Errorf("%w: %q", ErrUnknownDisplay, name)
}
