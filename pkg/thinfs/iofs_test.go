package thinfs_test

import (
	"errors"
	"io"
	"io/fs"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/csweichel/thintex/pkg/thindb"
	"github.com/csweichel/thintex/pkg/thinfs"
)

func TestIOFS(t *testing.T) {
	type Expectation struct {
		Content  string
		IsDir    bool
		NotExist bool
		Invalid  bool
	}
	tests := []struct {
		Name        string
		Path        string
		Expectation Expectation
	}{
		{Name: "file", Path: fooStyPath, Expectation: Expectation{Content: string(fooSty)}},
		{Name: "through symlink", Path: "texmf-dist/tex/link.sty", Expectation: Expectation{Content: string(fooSty)}},
		{Name: "root", Path: ".", Expectation: Expectation{IsDir: true}},
		{Name: "directory", Path: "texmf-dist/tex", Expectation: Expectation{IsDir: true}},
		{Name: "missing", Path: "texmf-dist/tex/bar.sty", Expectation: Expectation{NotExist: true}},
		{Name: "invalid", Path: "/texmf-dist", Expectation: Expectation{Invalid: true}},
	}

	remote := newTestRemote(t, testSnapshot())
	f := mount(t, remote, t.TempDir(), thindb.OverlayJSON)
	defer f.Unmount()
	fsys := thinfs.IOFS(f)

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			var act Expectation
			fi, err := fs.Stat(fsys, test.Path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				act.NotExist = true
			case errors.Is(err, fs.ErrInvalid):
				act.Invalid = true
			case err != nil:
				t.Fatalf("Stat() failed: %v", err)
			default:
				act.IsDir = fi.IsDir()
			}
			if err == nil && !act.IsDir {
				fc, err := fs.ReadFile(fsys, test.Path)
				if err != nil {
					t.Fatalf("ReadFile() failed: %v", err)
				}
				act.Content = string(fc)
			}

			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("IOFS mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIOFSFile(t *testing.T) {
	remote := newTestRemote(t, testSnapshot())
	f := mount(t, remote, t.TempDir(), thindb.OverlayJSON)
	defer f.Unmount()

	fd, err := thinfs.IOFS(f).Open(fooStyPath)
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Close()

	rs, ok := fd.(io.ReadSeeker)
	if !ok {
		t.Fatal("file does not implement io.ReadSeeker")
	}
	_, err = rs.Seek(-10, io.SeekEnd)
	if err != nil {
		t.Fatal(err)
	}
	tail, err := io.ReadAll(rs)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(fooSty[502:]), string(tail)); diff != "" {
		t.Errorf("tail mismatch (-want +got):\n%s", diff)
	}

	ra, ok := fd.(io.ReaderAt)
	if !ok {
		t.Fatal("file does not implement io.ReaderAt")
	}
	buf := make([]byte, 20)
	n, err := ra.ReadAt(buf, 500)
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF from a short ReadAt, got %v", err)
	}
	if diff := cmp.Diff(string(fooSty[500:]), string(buf[:n])); diff != "" {
		t.Errorf("ReadAt() mismatch (-want +got):\n%s", diff)
	}

	fi, err := fd.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("foo.sty -rw-r--r-- 512", fi.Name()+" "+fi.Mode().String()+" "+strconv.FormatInt(fi.Size(), 10)); diff != "" {
		t.Errorf("Stat() mismatch (-want +got):\n%s", diff)
	}
}
