package thindb_test

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/csweichel/thintex/pkg/thindb"
)

type overlayEntry struct {
	Record   *thindb.Record
	Resolved bool
}

func lookupEntry(t *testing.T, o thindb.Overlay, path string) overlayEntry {
	rec, resolved, err := o.Lookup(path)
	if err != nil {
		t.Fatalf("Lookup(%q) failed: %v", path, err)
	}
	return overlayEntry{Record: rec, Resolved: resolved}
}

func TestBadgerOverlay(t *testing.T) {
	dir := filepath.Join(t.TempDir(), thindb.BadgerOverlayDirname)
	root := &thindb.Record{Mode: u32(syscall.S_IFDIR | 0755)}
	defaults := testSnapshot().Defaults

	o, err := thindb.OpenBadgerOverlay(dir)
	if err != nil {
		t.Fatal(err)
	}
	for path, rec := range map[string]*thindb.Record{"": root, "texmf/missing.sty": nil} {
		err = o.Store(path, rec)
		if err != nil {
			t.Fatalf("Store(%q) failed: %v", path, err)
		}
	}
	err = o.SetDefaults(defaults)
	if err != nil {
		t.Fatal(err)
	}
	err = o.Close()
	if err != nil {
		t.Fatal(err)
	}

	o, err = thindb.OpenBadgerOverlay(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	tests := []struct {
		Name        string
		Path        string
		Expectation overlayEntry
	}{
		{Name: "root", Path: "", Expectation: overlayEntry{Record: root, Resolved: true}},
		{Name: "negative", Path: "texmf/missing.sty", Expectation: overlayEntry{Resolved: true}},
		{Name: "unresolved", Path: "texmf/foo.sty"},
		{Name: "looks like the defaults key", Path: "\x00defaults"},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			act := lookupEntry(t, o, test.Path)
			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("Lookup() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	act, ok := o.Defaults()
	if !ok {
		t.Fatal("defaults were not persisted")
	}
	if diff := cmp.Diff(defaults, act); diff != "" {
		t.Errorf("Defaults() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileOverlayStoreFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		t.Fatal(err)
	}
	o, err := thindb.OpenFileOverlay(filepath.Join(dir, thindb.OverlayFilename))
	if err != nil {
		t.Fatal(err)
	}
	foo := &thindb.Record{Size: i64(12), ContentHash: fooStyHash}
	err = o.Store("texmf/foo.sty", foo)
	if err != nil {
		t.Fatal(err)
	}

	// nowhere to write the overlay to
	err = os.RemoveAll(dir)
	if err != nil {
		t.Fatal(err)
	}
	err = o.Store("texmf/bar.sty", nil)
	if err == nil {
		t.Fatal("Store() succeeded without an overlay directory")
	}
	err = o.Store("texmf/foo.sty", nil)
	if err == nil {
		t.Fatal("Store() succeeded without an overlay directory")
	}

	tests := []struct {
		Path        string
		Expectation overlayEntry
	}{
		{Path: "texmf/bar.sty"},
		{Path: "texmf/foo.sty", Expectation: overlayEntry{Record: foo, Resolved: true}},
	}
	for _, test := range tests {
		t.Run(test.Path, func(t *testing.T) {
			act := lookupEntry(t, o, test.Path)
			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("Lookup() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
