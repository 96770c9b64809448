package cmd

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/csweichel/thintex/pkg/config"
	"github.com/csweichel/thintex/pkg/fetch"
	"github.com/csweichel/thintex/pkg/thindb"
	"github.com/csweichel/thintex/pkg/thinfs"
)

func TestServeFuseReleasesCacheDirOnError(t *testing.T) {
	base := t.TempDir()
	cacheDir := filepath.Join(base, "cache")
	err := os.MkdirAll(cacheDir, 0755)
	if err != nil {
		t.Fatal(err)
	}
	root := uint32(syscall.S_IFDIR | 0755)
	err = thindb.WriteSnapshot(filepath.Join(cacheDir, thindb.SnapshotFilename), &thindb.Snapshot{
		Records: map[string]thindb.Record{"": {Mode: &root}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// a mountpoint below a regular file cannot be created
	blocker := filepath.Join(base, "file")
	err = os.WriteFile(blocker, nil, 0644)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.CacheDir = cacheDir
	cfg.RemoteURL = "http://127.0.0.1:1"
	err = serveFuse(&cfg, filepath.Join(blocker, "mnt"))
	if err == nil {
		t.Fatal("serveFuse() succeeded with an unusable mountpoint")
	}

	f, err := thinfs.Mount(context.Background(), thinfs.Options{
		CacheDir:  cacheDir,
		RemoteURL: cfg.RemoteURL,
		Codec:     fetch.CodecGzip,
		Overlay:   thindb.OverlayJSON,
	})
	if err != nil {
		t.Fatalf("cache directory is still locked: %v", err)
	}
	f.Unmount()
}
