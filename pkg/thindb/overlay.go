package thindb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Overlay is the persisted, write-through subset of the snapshot. A path is
// either unresolved, resolved to a record, or resolved to "does not exist".
type Overlay interface {
	// Lookup returns resolved == false if path was never stored. A resolved
	// path with a nil record does not exist.
	Lookup(path string) (rec *Record, resolved bool, err error)
	// Store records the resolution of path and persists it before returning.
	Store(path string, rec *Record) error

	Defaults() (d Defaults, ok bool)
	SetDefaults(d Defaults) error

	Close() error
}

// OverlayKind selects the overlay implementation.
type OverlayKind string

const (
	OverlayJSON   OverlayKind = "json"
	OverlayBadger OverlayKind = "badger"
)

// ParseOverlayKind parses the overlay flag.
func ParseOverlayKind(s string) (OverlayKind, error) {
	switch OverlayKind(s) {
	case OverlayJSON, "":
		return OverlayJSON, nil
	case OverlayBadger:
		return OverlayBadger, nil
	default:
		return "", fmt.Errorf("unknown overlay kind %q", s)
	}
}

// OpenOverlay opens (or starts) the overlay of kind inside cacheDir.
func OpenOverlay(kind OverlayKind, cacheDir string) (Overlay, error) {
	switch kind {
	case OverlayJSON, "":
		return OpenFileOverlay(filepath.Join(cacheDir, OverlayFilename))
	case OverlayBadger:
		return OpenBadgerOverlay(filepath.Join(cacheDir, BadgerOverlayDirname))
	default:
		return nil, fmt.Errorf("unknown overlay kind %q", kind)
	}
}

// InvalidateOverlays removes every overlay stored in cacheDir. It must be
// called whenever the snapshot is replaced.
func InvalidateOverlays(cacheDir string) error {
	err := os.Remove(filepath.Join(cacheDir, OverlayFilename))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.RemoveAll(filepath.Join(cacheDir, BadgerOverlayDirname))
}

// overlayDocument shares the snapshot layout, except that records may be null.
type overlayDocument struct {
	Records  map[string]*Record `json:"records"`
	Defaults *Defaults          `json:"default,omitempty"`
}

// FileOverlay keeps the overlay in a single JSON file that is rewritten
// on every store.
type FileOverlay struct {
	fn  string
	doc overlayDocument
}

var _ Overlay = (*FileOverlay)(nil)

// OpenFileOverlay loads fn. A missing file yields an empty overlay without
// defaults.
func OpenFileOverlay(fn string) (*FileOverlay, error) {
	res := &FileOverlay{fn: fn}

	fc, err := os.ReadFile(fn)
	if errors.Is(err, os.ErrNotExist) {
		res.doc.Records = make(map[string]*Record)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(fc, &res.doc)
	if err != nil {
		return nil, fmt.Errorf("cannot parse overlay %s: %w", fn, err)
	}
	if res.doc.Records == nil {
		res.doc.Records = make(map[string]*Record)
	}
	return res, nil
}

func (o *FileOverlay) Lookup(path string) (*Record, bool, error) {
	rec, ok := o.doc.Records[path]
	return rec, ok, nil
}

func (o *FileOverlay) Store(path string, rec *Record) error {
	prev, existed := o.doc.Records[path]
	o.doc.Records[path] = rec
	err := writeJSONAtomic(o.fn, o.doc)
	if err != nil {
		// memory must not claim what the file does not hold
		if existed {
			o.doc.Records[path] = prev
		} else {
			delete(o.doc.Records, path)
		}
		return err
	}
	return nil
}

func (o *FileOverlay) Defaults() (Defaults, bool) {
	if o.doc.Defaults == nil {
		return Defaults{}, false
	}
	return *o.doc.Defaults, true
}

func (o *FileOverlay) SetDefaults(d Defaults) error {
	o.doc.Defaults = &d
	return writeJSONAtomic(o.fn, o.doc)
}

func (o *FileOverlay) Close() error { return nil }
