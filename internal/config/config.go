// Package config loads loom's settings: a YAML file, then LOOM_* environment
// overrides, then validation that reports every problem at once.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/pixil98/go-errors"
	"gopkg.in/yaml.v3"
)

// Config is the full settings tree. Zero values mean "off" for optional
// sinks (journal, NATS).
type Config struct {
	Archive ArchiveConfig `yaml:"archive" envPrefix:"ARCHIVE_"`
	Journal JournalConfig `yaml:"journal" envPrefix:"JOURNAL_"`
	Nats    NatsConfig    `yaml:"nats" envPrefix:"NATS_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Tree    TreeConfig    `yaml:"tree" envPrefix:"TREE_"`
}

type ArchiveConfig struct {
	Path string `yaml:"path" env:"PATH"`

	// Compress forces a ".zst" suffix on paths that lack one.
	Compress bool `yaml:"compress" env:"COMPRESS"`
}

// ResolvedPath returns Path with the compression suffix applied.
func (c ArchiveConfig) ResolvedPath() string {
	if c.Compress && c.Path != "" && !strings.HasSuffix(c.Path, ".zst") {
		return c.Path + ".zst"
	}
	return c.Path
}

func (c *ArchiveConfig) Validate() error {
	if c.Compress && c.Path == "" {
		return fmt.Errorf("archive.compress set without archive.path")
	}
	return nil
}

type JournalConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type NatsConfig struct {
	URL           string `yaml:"url" env:"URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

func (c *NatsConfig) Validate() error {
	el := goerrors.NewErrorList()

	if c.URL != "" && !strings.Contains(c.URL, "://") {
		el.Add(fmt.Errorf("nats.url %q has no scheme", c.URL))
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		el.Add(fmt.Errorf("nats.subject_prefix %q may not contain spaces or wildcards", c.SubjectPrefix))
	}
	if strings.HasPrefix(c.SubjectPrefix, ".") || strings.HasSuffix(c.SubjectPrefix, ".") {
		el.Add(fmt.Errorf("nats.subject_prefix %q may not start or end with a dot", c.SubjectPrefix))
	}

	return el.Err()
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// SlogLevel parses Level. Validate has already rejected unknown names.
func (c LogConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c *LogConfig) Validate() error {
	el := goerrors.NewErrorList()

	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		el.Add(fmt.Errorf("log.level %q: want debug, info, warn or error", c.Level))
	}
	switch c.Format {
	case "text", "json":
	default:
		el.Add(fmt.Errorf("log.format %q: want text or json", c.Format))
	}

	return el.Err()
}

type TreeConfig struct {
	ChildrenPerPage int `yaml:"children_per_page" env:"CHILDREN_PER_PAGE"`
}

func (c *TreeConfig) Validate() error {
	if c.ChildrenPerPage < 1 {
		return fmt.Errorf("tree.children_per_page must be at least 1, got %d", c.ChildrenPerPage)
	}
	return nil
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Nats: NatsConfig{SubjectPrefix: "loom"},
		Log:  LogConfig{Level: "info", Format: "text"},
		Tree: TreeConfig{ChildrenPerPage: 10},
	}
}

// Validate checks every section and joins all problems.
func (c *Config) Validate() error {
	el := goerrors.NewErrorList()

	el.Add(c.Archive.Validate())
	el.Add(c.Nats.Validate())
	el.Add(c.Log.Validate())
	el.Add(c.Tree.Validate())

	return el.Err()
}

// Load reads path over the defaults, applies the environment and validates.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse is Load for an in-memory document, without the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LOOM_* variables, for example
// LOOM_JOURNAL_PATH or LOOM_TREE_CHILDREN_PER_PAGE.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "LOOM_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}
