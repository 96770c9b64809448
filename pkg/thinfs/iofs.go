package thinfs

import (
	"context"
	"io"
	"io/fs"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/csweichel/thintex/pkg/thindb"
)

// maxSymlinks bounds symlink resolution in IOFS.
const maxSymlinks = 40

// IOFS exposes b as an fs.FS. Symlinks are followed; directories can be
// opened and stat'ed but not listed.
func IOFS(b Backend) fs.FS {
	return &ioFS{backend: b}
}

type ioFS struct {
	backend Backend
}

var (
	_ fs.FS     = (*ioFS)(nil)
	_ fs.StatFS = (*ioFS)(nil)
)

func (f *ioFS) Open(name string) (fs.File, error) {
	n, err := f.walk("open", name)
	if err != nil {
		return nil, err
	}
	stat, err := f.backend.Getattr(n)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ToErrno(err)}
	}
	s, err := f.backend.Open(context.Background(), n)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ToErrno(err)}
	}
	return &ioFile{backend: f.backend, name: name, stream: s, stat: stat}, nil
}

func (f *ioFS) Stat(name string) (fs.FileInfo, error) {
	n, err := f.walk("stat", name)
	if err != nil {
		return nil, err
	}
	stat, err := f.backend.Getattr(n)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: ToErrno(err)}
	}
	return fileInfo{name: path.Base(name), stat: stat}, nil
}

func (f *ioFS) walk(op, name string) (*Node, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	n, err := f.resolve(f.backend.Root(), name, 0)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: ToErrno(err)}
	}
	return n, nil
}

// resolve follows p from dir. Symlinks are resolved relative to the
// directory containing them and may not leave the tree.
func (f *ioFS) resolve(dir *Node, p string, depth int) (*Node, error) {
	n := dir
	if p == "." || p == "" {
		return n, nil
	}
	for _, name := range strings.Split(p, "/") {
		switch name {
		case "", ".":
			continue
		case "..":
			if n.Parent == nil {
				return nil, syscall.ENOENT
			}
			n = n.Parent
			continue
		}

		child, err := f.backend.Lookup(n, name)
		if err != nil {
			return nil, err
		}
		if thindb.IsSymlink(child.Mode) {
			if depth >= maxSymlinks {
				return nil, syscall.ELOOP
			}
			target, err := f.backend.Readlink(child)
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(target, "/") {
				return nil, syscall.ENOENT
			}
			child, err = f.resolve(n, target, depth+1)
			if err != nil {
				return nil, err
			}
		}
		n = child
	}
	return n, nil
}

type ioFile struct {
	backend Backend
	name    string
	stream  *Stream
	stat    thindb.Stat
}

var (
	_ fs.File     = (*ioFile)(nil)
	_ io.ReaderAt = (*ioFile)(nil)
	_ io.Seeker   = (*ioFile)(nil)
)

func (f *ioFile) Stat() (fs.FileInfo, error) {
	return fileInfo{name: path.Base(f.name), stat: f.stat}, nil
}

func (f *ioFile) Read(p []byte) (int, error) {
	pos, err := f.backend.Seek(f.stream, 0, io.SeekCurrent)
	if err != nil {
		return 0, f.wrap("read", err)
	}
	n, err := f.backend.Read(f.stream, p, pos)
	if err != nil {
		return n, f.wrap("read", err)
	}
	_, err = f.backend.Seek(f.stream, pos+int64(n), io.SeekStart)
	if err != nil {
		return n, f.wrap("read", err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *ioFile) ReadAt(p []byte, off int64) (int, error) {
	var read int
	for read < len(p) {
		n, err := f.backend.Read(f.stream, p[read:], off+int64(read))
		if err != nil {
			return read, f.wrap("read", err)
		}
		if n == 0 {
			return read, io.EOF
		}
		read += n
	}
	return read, nil
}

func (f *ioFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.backend.Seek(f.stream, offset, whence)
	if err != nil {
		return 0, f.wrap("seek", err)
	}
	return pos, nil
}

func (f *ioFile) Close() error {
	err := f.backend.Close(f.stream)
	if err != nil {
		return f.wrap("close", err)
	}
	return nil
}

func (f *ioFile) wrap(op string, err error) error {
	return &fs.PathError{Op: op, Path: f.name, Err: ToErrno(err)}
}

type fileInfo struct {
	name string
	stat thindb.Stat
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64 { return fi.stat.Size }
func (fi fileInfo) ModTime() time.Time { return fi.stat.Mtime }
func (fi fileInfo) IsDir() bool { return thindb.IsDir(fi.stat.Mode) }
func (fi fileInfo) Sys() any { return fi.stat }

func (fi fileInfo) Mode() fs.FileMode {
	mode := fs.FileMode(fi.stat.Mode & 0777)
	switch fi.stat.Mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		mode |= fs.ModeDir
	case syscall.S_IFLNK:
		mode |= fs.ModeSymlink
	}
	return mode
}
