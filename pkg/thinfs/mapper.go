package thinfs

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/csweichel/thintex/pkg/thindb"
)

// Node is a resolved path in the tree. Nodes only point to their parent,
// the root has none.
type Node struct {
	Parent *Node
	Name   string
	Mode   uint32
}

// LogicalPath joins the names from the root down to n. The root's logical
// path is empty.
func LogicalPath(n *Node) string {
	var segs []string
	for ; n != nil && n.Parent != nil; n = n.Parent {
		segs = append(segs, n.Name)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "/")
}

// Mapper translates logical paths into their location in the cache
// directory and on the remote.
type Mapper struct {
	CacheDir string

	remote *url.URL
}

// NewMapper parses the remote base URL.
func NewMapper(cacheDir, remoteURL string) (Mapper, error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return Mapper{}, fmt.Errorf("invalid remote URL %q: %w", remoteURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Mapper{}, fmt.Errorf("invalid remote URL %q: must be absolute", remoteURL)
	}
	return Mapper{CacheDir: cacheDir, remote: u}, nil
}

// Physical is where the body of logical lives once fetched.
func (m Mapper) Physical(logical string) string {
	return filepath.Join(m.CacheDir, thindb.BodiesDirname, filepath.FromSlash(logical))
}

// Remote is the URL the body of logical is served from, without the
// transport suffix.
func (m Mapper) Remote(logical string) string {
	return m.remote.JoinPath(thindb.BodiesDirname, logical).String()
}

// SnapshotPath is the local copy of the snapshot.
func (m Mapper) SnapshotPath() string {
	return filepath.Join(m.CacheDir, thindb.SnapshotFilename)
}

// SnapshotURL is the URL the snapshot is served from, without the
// transport suffix.
func (m Mapper) SnapshotURL() string {
	return m.remote.JoinPath(thindb.SnapshotFilename).String()
}
