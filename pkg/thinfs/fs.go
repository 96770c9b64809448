// Package thinfs presents the remote tree as a read-only filesystem. Metadata
// comes from thindb, file bodies are downloaded into the cache directory the
// first time they are opened.
package thinfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/csweichel/thintex/pkg/fetch"
	"github.com/csweichel/thintex/pkg/thindb"
)

// Backend is the operation set the host bindings are built on. All errors
// are syscall.Errno values or wrap one, see ToErrno.
type Backend interface {
	Root() *Node

	Getattr(n *Node) (thindb.Stat, error)
	Lookup(parent *Node, name string) (*Node, error)
	Readlink(n *Node) (string, error)
	Readdir(n *Node) ([]string, error)

	Open(ctx context.Context, n *Node) (*Stream, error)
	Read(s *Stream, dst []byte, pos int64) (int, error)
	Seek(s *Stream, offset int64, whence int) (int64, error)
	Close(s *Stream) error

	Setattr(n *Node, attr thindb.Stat) error
	Mknod(parent *Node, name string, mode uint32) error
	Mkdir(parent *Node, name string, mode uint32) error
	Rename(parent *Node, name string, newParent *Node, newName string) error
	Unlink(parent *Node, name string) error
	Rmdir(parent *Node, name string) error
	Symlink(parent *Node, name, target string) error
	Write(s *Stream, data []byte, pos int64) (int, error)
}

// Stream is an open node. Only regular files hold a descriptor.
type Stream struct {
	Node *Node

	file *os.File
	pos  int64
}

// Options configure a mount.
type Options struct {
	CacheDir  string
	RemoteURL string
	Codec     fetch.Codec
	Overlay   thindb.OverlayKind

	// Bridge performs downloads. Defaults to an in-process downloader.
	Bridge  fetch.Bridge
	Metrics *Metrics
}

// FS is a mounted cache directory.
type FS struct {
	Mapper  Mapper
	Codec   fetch.Codec
	Bridge  fetch.Bridge
	Metrics *Metrics

	db   *thindb.Database
	lock *os.File
	root *Node
}

var _ Backend = (*FS)(nil)

// Mount prepares the cache directory for serving. If the directory has no
// snapshot yet, it is downloaded and everything derived from a previous
// snapshot is removed. Only one mount per cache directory can exist at a time.
func Mount(ctx context.Context, opts Options) (res *FS, err error) {
	mapper, err := NewMapper(opts.CacheDir, opts.RemoteURL)
	if err != nil {
		return nil, err
	}
	if opts.Bridge == nil {
		opts.Bridge = &fetch.InProcess{}
	}

	err = os.MkdirAll(opts.CacheDir, 0755)
	if err != nil {
		return nil, err
	}
	lock, err := lockCacheDir(opts.CacheDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			unlockCacheDir(lock)
		}
	}()

	res = &FS{
		Mapper:  mapper,
		Codec:   opts.Codec,
		Bridge:  opts.Bridge,
		Metrics: opts.Metrics,
		lock:    lock,
	}

	_, err = os.Stat(mapper.SnapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		err = res.downloadSnapshot(ctx)
	}
	if err != nil {
		return nil, err
	}

	overlay, err := thindb.OpenOverlay(opts.Overlay, opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("cannot open overlay: %w", err)
	}
	res.db, err = thindb.Open(mapper.SnapshotPath(), overlay)
	if err != nil {
		overlay.Close()
		return nil, err
	}

	rec, ok, err := res.db.Resolve("")
	if err == nil && (!ok || !thindb.IsDir(res.db.Defaults().Stat(rec).Mode)) {
		err = fmt.Errorf("snapshot has no root directory")
	}
	if err != nil {
		res.db.Close()
		return nil, err
	}
	res.root = &Node{Mode: res.db.Defaults().Stat(rec).Mode}

	log.WithField("cacheDir", opts.CacheDir).WithField("remote", opts.RemoteURL).Info("thin filesystem ready")
	return res, nil
}

func (f *FS) downloadSnapshot(ctx context.Context) error {
	log.WithField("url", f.Mapper.SnapshotURL()).Info("downloading snapshot")

	err := thindb.InvalidateOverlays(f.Mapper.CacheDir)
	if err != nil {
		return err
	}
	err = os.RemoveAll(f.Mapper.Physical(""))
	if err != nil {
		return err
	}
	err = f.Bridge.Fetch(context.WithoutCancel(ctx), fetch.Request{
		URL:   f.Mapper.SnapshotURL(),
		Dest:  f.Mapper.SnapshotPath(),
		Codec: f.Codec,
	})
	if err != nil {
		return fmt.Errorf("cannot download snapshot: %w", err)
	}
	return nil
}

// Unmount releases the overlay and the cache directory lock.
func (f *FS) Unmount() error {
	err := f.db.Close()
	lerr := unlockCacheDir(f.lock)
	if err != nil {
		return err
	}
	return lerr
}

func (f *FS) Root() *Node {
	return f.root
}

func (f *FS) resolve(n *Node) (thindb.Record, error) {
	rec, ok, err := f.db.Resolve(LogicalPath(n))
	if err != nil {
		return thindb.Record{}, err
	}
	if !ok {
		return thindb.Record{}, syscall.ENOENT
	}
	return rec, nil
}

func (f *FS) Getattr(n *Node) (thindb.Stat, error) {
	rec, err := f.resolve(n)
	if err != nil {
		return thindb.Stat{}, err
	}
	return f.db.Defaults().Stat(rec), nil
}

func (f *FS) Lookup(parent *Node, name string) (*Node, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, syscall.EINVAL
	}

	child := &Node{Parent: parent, Name: name}
	rec, err := f.resolve(child)
	f.Metrics.lookup(err == nil)
	if err != nil {
		return nil, err
	}
	child.Mode = f.db.Defaults().Stat(rec).Mode
	return child, nil
}

func (f *FS) Readlink(n *Node) (string, error) {
	rec, err := f.resolve(n)
	if err != nil {
		return "", err
	}
	if rec.LinkTarget == "" {
		return "", syscall.ENOENT
	}
	return rec.LinkTarget, nil
}

// Readdir is not supported: the overlay cannot answer it without the full
// snapshot.
func (f *FS) Readdir(n *Node) ([]string, error) {
	return nil, syscall.ENOSYS
}

// Open opens n for reading. A regular file missing from the cache is fetched
// and opened again, once.
func (f *FS) Open(ctx context.Context, n *Node) (*Stream, error) {
	if !thindb.IsRegular(n.Mode) {
		return &Stream{Node: n}, nil
	}

	logical := LogicalPath(n)
	physical := f.Mapper.Physical(logical)
	fd, err := os.Open(physical)
	if err == nil {
		f.Metrics.open("cache")
		return &Stream{Node: n, file: fd}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	ferr := f.fetch(ctx, n, logical, physical)
	fd, err = os.Open(physical)
	if err != nil {
		f.Metrics.open("failed")
		if ferr != nil {
			return nil, fmt.Errorf("%w (fetch: %v)", err, ferr)
		}
		return nil, err
	}
	f.Metrics.open("fetched")
	return &Stream{Node: n, file: fd}, nil
}

func (f *FS) fetch(ctx context.Context, n *Node, logical, physical string) (err error) {
	t0 := time.Now()
	defer func() {
		f.Metrics.fetch(err, time.Since(t0))
		if err != nil {
			log.WithError(err).WithField("path", logical).Warn("fetch failed")
		}
	}()

	rec, err := f.resolve(n)
	if err != nil {
		return err
	}
	digest, err := fetch.ParseDigest(rec.ContentHash)
	if err != nil {
		return err
	}

	req := fetch.Request{
		URL:    f.Mapper.Remote(logical),
		Dest:   physical,
		Codec:  f.Codec,
		Digest: digest,
	}
	log.WithField("url", req.URL).WithField("path", logical).Debug("fetching")
	return f.Bridge.Fetch(context.WithoutCancel(ctx), req)
}

// Read reads from pos without moving the stream position.
func (f *FS) Read(s *Stream, dst []byte, pos int64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if s.file == nil {
		return 0, syscall.EISDIR
	}
	n, err := s.file.ReadAt(dst, pos)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (f *FS) Seek(s *Stream, offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		if s.file == nil {
			return 0, syscall.EINVAL
		}
		fi, err := s.file.Stat()
		if err != nil {
			return 0, err
		}
		base = fi.Size()
	default:
		return 0, syscall.EINVAL
	}

	pos := base + offset
	if pos < 0 {
		return 0, syscall.EINVAL
	}
	s.pos = pos
	return pos, nil
}

func (f *FS) Close(s *Stream) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (f *FS) Setattr(n *Node, attr thindb.Stat) error { return syscall.EROFS }
func (f *FS) Mknod(parent *Node, name string, mode uint32) error { return syscall.EROFS }
func (f *FS) Mkdir(parent *Node, name string, mode uint32) error { return syscall.EROFS }
func (f *FS) Unlink(parent *Node, name string) error { return syscall.EROFS }
func (f *FS) Rmdir(parent *Node, name string) error { return syscall.EROFS }
func (f *FS) Symlink(parent *Node, name, target string) error { return syscall.EROFS }
func (f *FS) Write(s *Stream, data []byte, pos int64) (int, error) { return 0, syscall.EROFS }
func (f *FS) Rename(parent *Node, name string, newParent *Node, newName string) error {
	return syscall.EROFS
}
