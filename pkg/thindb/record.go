// Package thindb holds the metadata of the remote tree: the full snapshot,
// the sparse overlay of previously resolved paths and the resolver that
// ties them together.
package thindb

import (
	"syscall"
	"time"
)

// Record describes one remote path. Attributes that are nil take their
// value from the snapshot defaults, which keeps the snapshot small.
type Record struct {
	Mode  *uint32 `json:"mode,omitempty"`
	Size  *int64  `json:"size,omitempty"`
	UID   *uint32 `json:"uid,omitempty"`
	GID   *uint32 `json:"gid,omitempty"`
	Nlink *uint32 `json:"nlink,omitempty"`

	// ContentHash is the digest of the file's bytes, see fetch.ParseDigest.
	ContentHash string `json:"sha256,omitempty"`
	LinkTarget  string `json:"link_to,omitempty"`
}

// DefaultValues are the most common attribute values across the snapshot.
type DefaultValues struct {
	Mode  *uint32 `json:"mode,omitempty"`
	Size  *int64  `json:"size,omitempty"`
	UID   *uint32 `json:"uid,omitempty"`
	GID   *uint32 `json:"gid,omitempty"`
	Nlink *uint32 `json:"nlink,omitempty"`
	Ino   *uint64 `json:"ino,omitempty"`
}

// Defaults is the "default" record of a snapshot.
type Defaults struct {
	Values DefaultValues  `json:"values"`
	Counts map[string]int `json:"counts,omitempty"`
}

// Stat is the synthesized attribute set of a path.
type Stat struct {
	Mode  uint32
	Size  int64
	UID   uint32
	GID   uint32
	Nlink uint32
	Ino   uint64

	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time
}

// Every node reports the same timestamps and inode number.
var (
	placeholderTime        = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	placeholderIno  uint64 = 999
)

// Stat applies the defaults and then r on top of the placeholder stat.
func (d Defaults) Stat(r Record) Stat {
	res := Stat{
		Nlink:     1,
		Ino:       placeholderIno,
		Atime:     placeholderTime,
		Mtime:     placeholderTime,
		Ctime:     placeholderTime,
		Birthtime: placeholderTime,
	}

	v := d.Values
	setU32(&res.Mode, v.Mode, r.Mode)
	setU32(&res.UID, v.UID, r.UID)
	setU32(&res.GID, v.GID, r.GID)
	setU32(&res.Nlink, v.Nlink, r.Nlink)
	if v.Size != nil {
		res.Size = *v.Size
	}
	if r.Size != nil {
		res.Size = *r.Size
	}
	if v.Ino != nil {
		res.Ino = *v.Ino
	}
	return res
}

func setU32(dst *uint32, vals ...*uint32) {
	for _, v := range vals {
		if v != nil {
			*dst = *v
		}
	}
}

// IsDir reports whether mode describes a directory.
func IsDir(mode uint32) bool { return mode&syscall.S_IFMT == syscall.S_IFDIR }

// IsRegular reports whether mode describes a regular file.
func IsRegular(mode uint32) bool { return mode&syscall.S_IFMT == syscall.S_IFREG }

// IsSymlink reports whether mode describes a symbolic link.
func IsSymlink(mode uint32) bool { return mode&syscall.S_IFMT == syscall.S_IFLNK }
