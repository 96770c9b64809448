package thinfs

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"github.com/csweichel/thintex/pkg/thindb"
)

// FuseOptions configure MountFuse.
type FuseOptions struct {
	Debug      bool
	AllowOther bool
}

// MountFuse serves b at mountpoint. The server handles one request at a time.
func MountFuse(mountpoint string, b Backend, opts FuseOptions) (*fuse.Server, error) {
	err := os.MkdirAll(mountpoint, 0755)
	if err != nil {
		return nil, err
	}

	// nodes never change while mounted
	timeout := time.Hour
	return fs.Mount(mountpoint, NewFuseRoot(b), &fs.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:         "thintex",
			Name:           "thintex",
			Debug:          opts.Debug,
			AllowOther:     opts.AllowOther,
			SingleThreaded: true,
		},
	})
}

// NewFuseRoot returns the root of a go-fuse tree served by b. Children are
// created on lookup.
func NewFuseRoot(b Backend) fs.InodeEmbedder {
	return &fuseNode{backend: b, node: b.Root()}
}

type fuseNode struct {
	fs.Inode

	backend Backend
	node    *Node
}

var (
	_ fs.NodeGetattrer  = (*fuseNode)(nil)
	_ fs.NodeLookuper   = (*fuseNode)(nil)
	_ fs.NodeReadlinker = (*fuseNode)(nil)
	_ fs.NodeReaddirer  = (*fuseNode)(nil)
	_ fs.NodeOpener     = (*fuseNode)(nil)
	_ fs.NodeSetattrer  = (*fuseNode)(nil)
	_ fs.NodeMknoder    = (*fuseNode)(nil)
	_ fs.NodeMkdirer    = (*fuseNode)(nil)
	_ fs.NodeCreater    = (*fuseNode)(nil)
	_ fs.NodeRenamer    = (*fuseNode)(nil)
	_ fs.NodeUnlinker   = (*fuseNode)(nil)
	_ fs.NodeRmdirer    = (*fuseNode)(nil)
	_ fs.NodeSymlinker  = (*fuseNode)(nil)
)

func fillAttr(stat thindb.Stat, out *fuse.Attr) {
	out.Mode = stat.Mode
	out.Size = uint64(stat.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Nlink = stat.Nlink
	out.Uid = stat.UID
	out.Gid = stat.GID
	out.SetTimes(&stat.Atime, &stat.Mtime, &stat.Ctime)
}

func (n *fuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	stat, err := n.backend.Getattr(n.node)
	if err != nil {
		return ToErrno(err)
	}
	fillAttr(stat, &out.Attr)
	return 0
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, err := n.backend.Lookup(n.node, name)
	if err != nil {
		return nil, ToErrno(err)
	}
	stat, err := n.backend.Getattr(child)
	if err != nil {
		return nil, ToErrno(err)
	}
	fillAttr(stat, &out.Attr)

	log.WithField("name", name).WithField("path", LogicalPath(child)).Debug("adding inode")
	return n.NewInode(ctx, &fuseNode{backend: n.backend, node: child}, fs.StableAttr{
		Mode: child.Mode & syscall.S_IFMT,
	}), 0
}

func (n *fuseNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.backend.Readlink(n.node)
	if err != nil {
		return nil, ToErrno(err)
	}
	return []byte(target), 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	_, err := n.backend.Readdir(n.node)
	return nil, ToErrno(err)
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	s, err := n.backend.Open(ctx, n.node)
	if err != nil {
		return nil, 0, ToErrno(err)
	}
	// bodies are immutable once fetched
	return &fuseHandle{backend: n.backend, stream: s}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fuseNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return ToErrno(n.backend.Setattr(n.node, thindb.Stat{Mode: in.Mode, Size: int64(in.Size)}))
}

func (n *fuseNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, ToErrno(n.backend.Mknod(n.node, name, mode))
}

func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, ToErrno(n.backend.Mkdir(n.node, name, mode))
}

func (n *fuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, ToErrno(n.backend.Mknod(n.node, name, mode))
}

func (n *fuseNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	var np *Node
	if p, ok := newParent.(*fuseNode); ok {
		np = p.node
	}
	return ToErrno(n.backend.Rename(n.node, name, np, newName))
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return ToErrno(n.backend.Unlink(n.node, name))
}

func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return ToErrno(n.backend.Rmdir(n.node, name))
}

func (n *fuseNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, ToErrno(n.backend.Symlink(n.node, name, target))
}

type fuseHandle struct {
	backend Backend
	stream  *Stream
}

var (
	_ fs.FileReader   = (*fuseHandle)(nil)
	_ fs.FileWriter   = (*fuseHandle)(nil)
	_ fs.FileLseeker  = (*fuseHandle)(nil)
	_ fs.FileReleaser = (*fuseHandle)(nil)
)

func (h *fuseHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.backend.Read(h.stream, dest, off)
	if err != nil {
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fuseHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.backend.Write(h.stream, data, off)
	return uint32(n), ToErrno(err)
}

func (h *fuseHandle) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	pos, err := h.backend.Seek(h.stream, int64(off), int(whence))
	if err != nil {
		return 0, ToErrno(err)
	}
	return uint64(pos), 0
}

func (h *fuseHandle) Release(ctx context.Context) syscall.Errno {
	return ToErrno(h.backend.Close(h.stream))
}
