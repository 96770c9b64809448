// Package config loads the thintex configuration. Values are taken from the
// built-in defaults, then an optional YAML file, then the environment.
// Command line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/csweichel/thintex/pkg/fetch"
	"github.com/csweichel/thintex/pkg/thindb"
)

const (
	DefaultRemoteURL = "https://london.latexjs.org"
	// Filename is looked up in the cache directory when no file is given.
	Filename = "thintex.yaml"

	EnvCacheDir    = "THINTEX_CACHE_DIR"
	EnvRemoteURL   = "THINTEX_REMOTE_URL"
	EnvCompression = "THINTEX_COMPRESSION"
	EnvLocalMount  = "THINTEX_LOCAL_MOUNT"
)

// Bridge kinds.
const (
	BridgeInProcess  = "inprocess"
	BridgeSubprocess = "subprocess"
)

type Config struct {
	CacheDir    string `yaml:"cache_dir"`
	RemoteURL   string `yaml:"remote_url"`
	Compression string `yaml:"compression"`
	Overlay     string `yaml:"overlay"`

	// Bridge selects how bodies are downloaded: in this process or by
	// running "thintex download".
	Bridge string `yaml:"bridge"`
	// HTTPTimeout bounds a single download. Zero means no timeout.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Engine Engine `yaml:"engine"`
}

// Engine configures "thintex run".
type Engine struct {
	WASM    string            `yaml:"wasm"`
	Program string            `yaml:"program"`
	Env     map[string]string `yaml:"env"`
	// LocalMount serves the distribution from a local directory instead of
	// the thin filesystem.
	LocalMount string `yaml:"local_mount"`
}

// Default returns the built-in configuration.
func Default() Config {
	cacheDir := ".thintex"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".thintex")
	}
	return Config{
		CacheDir:    cacheDir,
		RemoteURL:   DefaultRemoteURL,
		Compression: string(fetch.CodecGzip),
		Overlay:     string(thindb.OverlayJSON),
		Bridge:      BridgeInProcess,
	}
}

// Load reads the configuration. An empty fn reads Filename from the cache
// directory if it exists; an explicit fn must exist.
func Load(fn string) (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv(os.LookupEnv)

	required := fn != ""
	if fn == "" {
		fn = filepath.Join(cfg.CacheDir, Filename)
	}
	err := cfg.readFile(fn)
	if errors.Is(err, os.ErrNotExist) && !required {
		err = nil
	}
	if err != nil {
		return nil, err
	}

	// the environment wins over the file
	cfg.ApplyEnv(os.LookupEnv)
	return &cfg, nil
}

func (c *Config) readFile(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	err = yaml.Unmarshal(data, c)
	if err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", fn, err)
	}
	return nil
}

// ApplyEnv overrides fields with the THINTEX_* variables that are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.CacheDir = v
	}
	if v, ok := lookup(EnvRemoteURL); ok && v != "" {
		c.RemoteURL = v
	}
	if v, ok := lookup(EnvCompression); ok && v != "" {
		c.Compression = v
	}
	if v, ok := lookup(EnvLocalMount); ok && v != "" {
		c.Engine.LocalMount = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	if c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required")
	}
	if _, err := c.Codec(); err != nil {
		return err
	}
	if _, err := c.OverlayKind(); err != nil {
		return err
	}
	switch c.Bridge {
	case BridgeInProcess, BridgeSubprocess:
	default:
		return fmt.Errorf("unknown bridge %q (supported: %s, %s)", c.Bridge, BridgeInProcess, BridgeSubprocess)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout must not be negative")
	}
	return nil
}

func (c *Config) Codec() (fetch.Codec, error) {
	return fetch.ParseCodec(c.Compression)
}

func (c *Config) OverlayKind() (thindb.OverlayKind, error) {
	return thindb.ParseOverlayKind(c.Overlay)
}
