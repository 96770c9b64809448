package thindb

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Database resolves logical paths. It answers from the overlay whenever
// possible and parses the full snapshot at most once, on the first overlay
// miss.
type Database struct {
	SnapshotPath string

	mu       sync.Mutex
	overlay  Overlay
	snapshot *Snapshot
	defaults Defaults
}

// Open prepares a database over the snapshot file and overlay. An overlay
// without defaults is seeded from the snapshot.
func Open(snapshotPath string, overlay Overlay) (*Database, error) {
	db := &Database{
		SnapshotPath: snapshotPath,
		overlay:      overlay,
	}

	d, ok := overlay.Defaults()
	if !ok {
		log.WithField("snapshot", snapshotPath).Debug("overlay has no defaults, seeding from snapshot")
		err := db.loadSnapshot()
		if err != nil {
			return nil, err
		}
		d = db.snapshot.Defaults
		err = overlay.SetDefaults(d)
		if err != nil {
			return nil, fmt.Errorf("cannot seed overlay: %w", err)
		}
	}
	db.defaults = d

	return db, nil
}

// Resolve returns the record of path and whether it exists.
func (db *Database) Resolve(path string) (Record, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rec, resolved, err := db.overlay.Lookup(path)
	if err != nil {
		return Record{}, false, err
	}
	if resolved {
		if rec == nil {
			return Record{}, false, nil
		}
		return *rec, true, nil
	}

	log.WithField("path", path).Debug("overlay miss")
	err = db.loadSnapshot()
	if err != nil {
		return Record{}, false, err
	}

	var stored *Record
	full, exists := db.snapshot.Records[path]
	if exists {
		stored = &full
	}
	err = db.overlay.Store(path, stored)
	if err != nil {
		return Record{}, false, fmt.Errorf("cannot persist overlay entry for %q: %w", path, err)
	}
	return full, exists, nil
}

// Defaults returns the snapshot defaults without loading the snapshot.
func (db *Database) Defaults() Defaults {
	return db.defaults
}

// SnapshotLoaded reports whether the full snapshot was parsed by this process.
func (db *Database) SnapshotLoaded() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.snapshot != nil
}

// Close closes the overlay.
func (db *Database) Close() error {
	return db.overlay.Close()
}

func (db *Database) loadSnapshot() error {
	if db.snapshot != nil {
		return nil
	}

	t0 := time.Now()
	s, err := ReadSnapshot(db.SnapshotPath)
	if err != nil {
		return err
	}
	db.snapshot = s
	log.WithField("records", len(s.Records)).WithField("duration", time.Since(t0)).Debug("loaded full snapshot")
	return nil
}
