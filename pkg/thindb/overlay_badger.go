package thindb

import (
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

// defaultsKey cannot collide with a path key, which always starts with "p/".
var defaultsKey = []byte("\x00defaults")

// pathKey maps a logical path to its key. The root is the empty path, and
// badger does not accept empty keys.
func pathKey(path string) []byte {
	return []byte("p/" + path)
}

// nullValue marks a path that was resolved and does not exist.
var nullValue = []byte("null")

// badgerLogger demotes badger's chatty info messages to debug.
type badgerLogger struct {
	*log.Entry
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}

// BadgerOverlay stores one key per resolved path. Writes are synced, so a
// resolution survives a crash right after Store returns.
type BadgerOverlay struct {
	DB *badger.DB

	defaults *Defaults
}

var _ Overlay = (*BadgerOverlay)(nil)

// OpenBadgerOverlay opens the badger overlay in dir. An empty dir opens an
// in-memory overlay.
func OpenBadgerOverlay(dir string) (*BadgerOverlay, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{log.WithField("component", "overlay")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return NewBadgerOverlay(db)
}

// NewBadgerOverlay uses an already opened database.
func NewBadgerOverlay(db *badger.DB) (*BadgerOverlay, error) {
	res := &BadgerOverlay{DB: db}
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(defaultsKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var d Defaults
			err := json.Unmarshal(val, &d)
			if err != nil {
				return err
			}
			res.defaults = &d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *BadgerOverlay) Lookup(path string) (rec *Record, resolved bool, err error) {
	err = o.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pathKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		resolved = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return rec, resolved, nil
}

func (o *BadgerOverlay) Store(path string, rec *Record) error {
	val := nullValue
	if rec != nil {
		var err error
		val, err = json.Marshal(rec)
		if err != nil {
			return err
		}
	}
	return o.DB.Update(func(txn *badger.Txn) error {
		return txn.Set(pathKey(path), val)
	})
}

func (o *BadgerOverlay) Defaults() (Defaults, bool) {
	if o.defaults == nil {
		return Defaults{}, false
	}
	return *o.defaults, true
}

func (o *BadgerOverlay) SetDefaults(d Defaults) error {
	val, err := json.Marshal(d)
	if err != nil {
		return err
	}
	err = o.DB.Update(func(txn *badger.Txn) error {
		return txn.Set(defaultsKey, val)
	})
	if err != nil {
		return err
	}
	o.defaults = &d
	return nil
}

func (o *BadgerOverlay) Close() error {
	return o.DB.Close()
}
