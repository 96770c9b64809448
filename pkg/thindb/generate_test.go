package thindb_test

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/csweichel/thintex/pkg/fetch"
	"github.com/csweichel/thintex/pkg/thindb"
)

const (
	fileHelloTXT       = "Hello World\nThis is a test"
	fileFooSlashBarTXT = "More file content"
)

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func prepareTestTar(t *testing.T) *bytes.Buffer {
	buf := bytes.NewBuffer(nil)

	tw := tar.NewWriter(buf)
	entries := []struct {
		Hdr     tar.Header
		Content string
	}{
		{Hdr: tar.Header{Typeflag: tar.TypeDir, Name: "./", Mode: 0755, Uid: 33333, Gid: 33333}},
		{Hdr: tar.Header{Typeflag: tar.TypeReg, Name: "./hello.txt", Mode: 0644, Uid: 33333, Gid: 33333}, Content: fileHelloTXT},
		{Hdr: tar.Header{Typeflag: tar.TypeReg, Name: "./foo/bar.txt", Mode: 0644, Uid: 33333, Gid: 33333}, Content: fileFooSlashBarTXT},
		{Hdr: tar.Header{Typeflag: tar.TypeSymlink, Name: "./foo/link", Linkname: "bar.txt", Mode: 0777, Uid: 33333, Gid: 33333}},
		{Hdr: tar.Header{Typeflag: tar.TypeReg, Name: "./foo/three/levels/deep", Mode: 0755, Uid: 0, Gid: 0}, Content: fileHelloTXT},
	}
	for _, e := range entries {
		hdr := e.Hdr
		hdr.Size = int64(len(e.Content))
		err := tw.WriteHeader(&hdr)
		if err != nil {
			t.Fatal(err)
		}
		_, err = tw.Write([]byte(e.Content))
		if err != nil {
			t.Fatal(err)
		}
	}
	err := tw.Close()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestProduceSnapshotFromTar(t *testing.T) {
	type Entry struct {
		Mode uint32
		Size int64
		UID  uint32
		Link string
		Hash string
	}
	expectation := map[string]Entry{
		"":                      {Mode: syscall.S_IFDIR | 0755, UID: 33333},
		"hello.txt":             {Mode: syscall.S_IFREG | 0644, Size: int64(len(fileHelloTXT)), UID: 33333, Hash: sha256Hex(fileHelloTXT)},
		"foo":                   {Mode: syscall.S_IFDIR | 0755, UID: 33333},
		"foo/bar.txt":           {Mode: syscall.S_IFREG | 0644, Size: int64(len(fileFooSlashBarTXT)), UID: 33333, Hash: sha256Hex(fileFooSlashBarTXT)},
		"foo/link":              {Mode: syscall.S_IFLNK | 0777, Size: int64(len("bar.txt")), UID: 33333, Link: "bar.txt"},
		"foo/three":             {Mode: syscall.S_IFDIR | 0755, UID: 33333},
		"foo/three/levels":      {Mode: syscall.S_IFDIR | 0755, UID: 33333},
		"foo/three/levels/deep": {Mode: syscall.S_IFREG | 0755, Size: int64(len(fileHelloTXT)), Hash: sha256Hex(fileHelloTXT)},
	}

	for _, codec := range []fetch.Codec{fetch.CodecNone, fetch.CodecGzip, fetch.CodecZstd, fetch.CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			dst := t.TempDir()
			snap, err := thindb.ProduceSnapshotFromTar(dst, prepareTestTar(t), thindb.GenerateOptions{
				Codec:           codec,
				MinDefaultCount: 2,
			})
			if err != nil {
				t.Fatalf("ProduceSnapshotFromTar() failed: %v", err)
			}

			act := make(map[string]Entry, len(snap.Records))
			for name, rec := range snap.Records {
				stat := snap.Defaults.Stat(rec)
				act[name] = Entry{Mode: stat.Mode, Size: stat.Size, UID: stat.UID, Link: rec.LinkTarget, Hash: rec.ContentHash}
			}
			if diff := cmp.Diff(expectation, act); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}

			if diff := cmp.Diff(uint32(33333), *snap.Defaults.Values.UID); diff != "" {
				t.Errorf("uid default mismatch (-want +got):\n%s", diff)
			}
			if snap.Records["hello.txt"].UID != nil {
				t.Error("fields equal to the default must be omitted")
			}

			onDisk, err := thindb.ReadSnapshot(filepath.Join(dst, thindb.SnapshotFilename))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(snap, onDisk); diff != "" {
				t.Errorf("written snapshot mismatch (-want +got):\n%s", diff)
			}

			body := readEncoded(t, filepath.Join(dst, thindb.BodiesDirname, "foo", "bar.txt")+codec.Suffix(), codec)
			if diff := cmp.Diff(fileFooSlashBarTXT, body); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
			if codec != fetch.CodecNone {
				readEncoded(t, filepath.Join(dst, thindb.SnapshotFilename)+codec.Suffix(), codec)
			}
		})
	}
}

func readEncoded(t *testing.T, fn string, codec fetch.Codec) string {
	f, err := os.Open(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := codec.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	fc, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(fc)
}

func TestProduceSnapshotFromTarRejectsEscapingNames(t *testing.T) {
	tests := []struct {
		Name  string
		Entry string
	}{
		{Name: "parent", Entry: "../../escaped.txt"},
		{Name: "parent after ./", Entry: "./../escaped.txt"},
		{Name: "nested parent", Entry: "foo/../../escaped.txt"},
		{Name: "unclean", Entry: "foo/./escaped.txt"},
		{Name: "absolute", Entry: "/escaped.txt"},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			tw := tar.NewWriter(buf)
			err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: test.Entry, Mode: 0644, Size: int64(len(fileHelloTXT))})
			if err != nil {
				t.Fatal(err)
			}
			_, err = tw.Write([]byte(fileHelloTXT))
			if err != nil {
				t.Fatal(err)
			}
			err = tw.Close()
			if err != nil {
				t.Fatal(err)
			}

			base := t.TempDir()
			dst := filepath.Join(base, "a", "out")
			_, err = thindb.ProduceSnapshotFromTar(dst, buf, thindb.GenerateOptions{Codec: fetch.CodecNone})
			if err == nil {
				t.Errorf("ProduceSnapshotFromTar() accepted %q", test.Entry)
			}

			var escaped []string
			filepath.Walk(base, func(p string, info os.FileInfo, err error) error {
				if err == nil && !info.IsDir() {
					escaped = append(escaped, p)
				}
				return nil
			})
			if diff := cmp.Diff([]string(nil), escaped); diff != "" {
				t.Errorf("files written (-want +got):\n%s", diff)
			}
		})
	}
}
