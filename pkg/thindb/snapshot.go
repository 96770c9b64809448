package thindb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// SnapshotFilename is the name of the full metadata snapshot, both in
	// the cache directory and on the remote.
	SnapshotFilename = "thinfs_db.json"
	// OverlayFilename is the JSON overlay inside the cache directory.
	OverlayFilename = "thinfs_db_cache.json"
	// BadgerOverlayDirname is the badger overlay inside the cache directory.
	BadgerOverlayDirname = "thinfs_db_cache.badger"
)

// Snapshot is the full metadata database of the remote tree. The root of
// the tree is stored under the empty path.
type Snapshot struct {
	Records  map[string]Record `json:"records"`
	Defaults Defaults          `json:"default"`
}

// ReadSnapshot parses a snapshot file.
func ReadSnapshot(fn string) (*Snapshot, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var res Snapshot
	err = json.NewDecoder(f).Decode(&res)
	if err != nil {
		return nil, fmt.Errorf("cannot parse snapshot %s: %w", fn, err)
	}
	if res.Records == nil {
		res.Records = make(map[string]Record)
	}
	return &res, nil
}

// WriteSnapshot serializes s to fn.
func WriteSnapshot(fn string, s *Snapshot) error {
	return writeJSONAtomic(fn, s)
}

// writeJSONAtomic replaces fn with the JSON encoding of v. The content is
// synced before the rename so a crash leaves either the old or the new file.
func writeJSONAtomic(fn string, v interface{}) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(fn), "."+filepath.Base(fn)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	err = json.NewEncoder(tmp).Encode(v)
	if err != nil {
		return err
	}
	err = tmp.Sync()
	if err != nil {
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fn)
}
