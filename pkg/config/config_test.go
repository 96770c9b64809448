package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/csweichel/thintex/pkg/config"
)

func writeFile(t *testing.T, fn, content string) {
	err := os.WriteFile(fn, []byte(content), 0644)
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	type Expectation struct {
		Config *config.Config
		Err    bool
	}
	tests := []struct {
		Name        string
		File        string
		Env         map[string]string
		Expectation func(dir string) Expectation
	}{
		{
			Name: "defaults",
			Expectation: func(dir string) Expectation {
				return Expectation{Config: &config.Config{
					CacheDir:    dir,
					RemoteURL:   config.DefaultRemoteURL,
					Compression: "gzip",
					Overlay:     "json",
					Bridge:      config.BridgeInProcess,
				}}
			},
		},
		{
			Name: "file in cache dir",
			File: "remote_url: https://example.com/texlive\noverlay: badger\nhttp_timeout: 30s\nengine:\n  wasm: /opt/pdftex.wasm\n  env:\n    KPATHSEA_DEBUG: \"-1\"\n",
			Expectation: func(dir string) Expectation {
				return Expectation{Config: &config.Config{
					CacheDir:    dir,
					RemoteURL:   "https://example.com/texlive",
					Compression: "gzip",
					Overlay:     "badger",
					Bridge:      config.BridgeInProcess,
					HTTPTimeout: 30 * time.Second,
					Engine: config.Engine{
						WASM: "/opt/pdftex.wasm",
						Env:  map[string]string{"KPATHSEA_DEBUG": "-1"},
					},
				}}
			},
		},
		{
			Name: "environment wins over file",
			File: "remote_url: https://example.com/texlive\ncompression: zstd\n",
			Env: map[string]string{
				config.EnvRemoteURL:   "http://localhost:8080",
				config.EnvCompression: "lz4",
				config.EnvLocalMount:  "/usr/local/texlive/2024",
			},
			Expectation: func(dir string) Expectation {
				return Expectation{Config: &config.Config{
					CacheDir:    dir,
					RemoteURL:   "http://localhost:8080",
					Compression: "lz4",
					Overlay:     "json",
					Bridge:      config.BridgeInProcess,
					Engine:      config.Engine{LocalMount: "/usr/local/texlive/2024"},
				}}
			},
		},
		{
			Name: "broken file",
			File: "remote_url: [",
			Expectation: func(dir string) Expectation {
				return Expectation{Err: true}
			},
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			dir := t.TempDir()
			t.Setenv(config.EnvCacheDir, dir)
			t.Setenv(config.EnvRemoteURL, "")
			t.Setenv(config.EnvCompression, "")
			t.Setenv(config.EnvLocalMount, "")
			for k, v := range test.Env {
				t.Setenv(k, v)
			}
			if test.File != "" {
				writeFile(t, filepath.Join(dir, config.Filename), test.File)
			}

			var act Expectation
			cfg, err := config.Load("")
			act.Config = cfg
			act.Err = err != nil

			if diff := cmp.Diff(test.Expectation(dir), act); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvCacheDir, dir)

	_, err := config.Load(filepath.Join(dir, "missing.yaml"))
	if err == nil {
		t.Error("an explicitly named config file must exist")
	}

	fn := filepath.Join(dir, "other.yaml")
	writeFile(t, fn, "bridge: subprocess\n")
	cfg, err := config.Load(fn)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(config.BridgeSubprocess, cfg.Bridge); diff != "" {
		t.Errorf("bridge mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		Name        string
		Modify      func(c *config.Config)
		Expectation string
	}{
		{Name: "defaults", Modify: func(c *config.Config) {}},
		{Name: "no cache dir", Modify: func(c *config.Config) { c.CacheDir = "" }, Expectation: "cache_dir is required"},
		{Name: "no remote", Modify: func(c *config.Config) { c.RemoteURL = "" }, Expectation: "remote_url is required"},
		{Name: "bad compression", Modify: func(c *config.Config) { c.Compression = "brotli" }, Expectation: `unknown compression "brotli"`},
		{Name: "bad overlay", Modify: func(c *config.Config) { c.Overlay = "sqlite" }, Expectation: `unknown overlay kind "sqlite"`},
		{Name: "bad bridge", Modify: func(c *config.Config) { c.Bridge = "node" }, Expectation: `unknown bridge "node" (supported: inprocess, subprocess)`},
		{Name: "negative timeout", Modify: func(c *config.Config) { c.HTTPTimeout = -time.Second }, Expectation: "http_timeout must not be negative"},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			cfg := config.Default()
			test.Modify(&cfg)

			var act string
			if err := cfg.Validate(); err != nil {
				act = err.Error()
			}
			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
