package thindb

import (
	"archive/tar"
	"cmp"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/csweichel/thintex/pkg/fetch"
)

// BodiesDirname is the directory below the cache and the remote base URL
// that mirrors the tree.
const BodiesDirname = "thinfs"

// GenerateOptions configures ProduceSnapshotFromTar.
type GenerateOptions struct {
	// Codec is the transport compression for bodies and the snapshot.
	Codec fetch.Codec
	// MinDefaultCount is how many records must share a value before it
	// becomes a default.
	MinDefaultCount int
}

// ProduceSnapshotFromTar reads a tar archive of a distribution and lays out
// what the remote store serves in dst: the encoded snapshot and one encoded
// body per regular file below dst/thinfs.
func ProduceSnapshotFromTar(dst string, in io.Reader, opts GenerateOptions) (*Snapshot, error) {
	if opts.MinDefaultCount <= 0 {
		opts.MinDefaultCount = 100
	}

	records := make(map[string]Record)
	tarf := tar.NewReader(in)
	for {
		hdr, err := tarf.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(strings.TrimPrefix(hdr.Name, "./"), "/")
		if name == "." {
			name = ""
		}
		if name != "" && (!filepath.IsLocal(name) || path.Clean(name) != name) {
			return nil, fmt.Errorf("tar entry %q points outside the tree", hdr.Name)
		}
		rec := Record{
			Mode:  u32(tarMode(hdr)),
			UID:   u32(uint32(hdr.Uid)),
			GID:   u32(uint32(hdr.Gid)),
			Nlink: u32(1),
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			rec.Size = i64(hdr.Size)
		case tar.TypeSymlink:
			rec.LinkTarget = hdr.Linkname
			rec.Size = i64(int64(len(hdr.Linkname)))
		case tar.TypeReg:
			size, digest, err := writeBody(dst, name, tarf, opts.Codec)
			if err != nil {
				return nil, fmt.Errorf("cannot write body of %s: %w", name, err)
			}
			rec.Size = i64(size)
			rec.ContentHash = digest
		case tar.TypeLink:
			log.WithField("name", name).Warn("don't know how to handle hard links, skipping")
			continue
		default:
			log.WithField("name", name).WithField("type", hdr.Typeflag).Debug("skipping unsupported entry")
			continue
		}

		records[name] = rec
		log.WithField("name", name).Debug("added path to snapshot")
	}
	addImplicitDirs(records)

	res := &Snapshot{
		Records: records,
		Defaults: Defaults{
			Counts: make(map[string]int),
		},
	}
	var n int
	res.Defaults.Values.Mode, n = extractDefault(records, func(r *Record) **uint32 { return &r.Mode }, opts.MinDefaultCount)
	res.Defaults.Counts["mode"] = n
	res.Defaults.Values.Size, n = extractDefault(records, func(r *Record) **int64 { return &r.Size }, opts.MinDefaultCount)
	res.Defaults.Counts["size"] = n
	res.Defaults.Values.UID, n = extractDefault(records, func(r *Record) **uint32 { return &r.UID }, opts.MinDefaultCount)
	res.Defaults.Counts["uid"] = n
	res.Defaults.Values.GID, n = extractDefault(records, func(r *Record) **uint32 { return &r.GID }, opts.MinDefaultCount)
	res.Defaults.Counts["gid"] = n
	res.Defaults.Values.Nlink, n = extractDefault(records, func(r *Record) **uint32 { return &r.Nlink }, opts.MinDefaultCount)
	res.Defaults.Counts["nlink"] = n
	for k, v := range res.Defaults.Counts {
		if v == 0 {
			delete(res.Defaults.Counts, k)
		}
	}

	err := os.MkdirAll(dst, 0755)
	if err != nil {
		return nil, err
	}
	err = WriteSnapshot(filepath.Join(dst, SnapshotFilename), res)
	if err != nil {
		return nil, err
	}
	if opts.Codec != fetch.CodecNone {
		err = writeEncoded(filepath.Join(dst, SnapshotFilename+opts.Codec.Suffix()), opts.Codec, func(w io.Writer) error {
			return json.NewEncoder(w).Encode(res)
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func writeBody(dst, name string, r io.Reader, codec fetch.Codec) (size int64, digest string, err error) {
	fn := filepath.Join(dst, BodiesDirname, filepath.FromSlash(name)) + codec.Suffix()
	err = os.MkdirAll(filepath.Dir(fn), 0755)
	if err != nil {
		return
	}

	hasher := fetch.Digest{Algorithm: fetch.AlgorithmSHA256}.NewHash()
	err = writeEncoded(fn, codec, func(w io.Writer) error {
		size, err = io.Copy(io.MultiWriter(w, hasher), r)
		return err
	})
	if err != nil {
		return
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func writeEncoded(fn string, codec fetch.Codec, produce func(w io.Writer) error) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := codec.NewWriter(f)
	if err != nil {
		return err
	}
	err = produce(enc)
	if err != nil {
		return err
	}
	err = enc.Close()
	if err != nil {
		return err
	}
	return f.Close()
}

func tarMode(hdr *tar.Header) uint32 {
	perm := uint32(hdr.Mode) & 07777
	switch hdr.Typeflag {
	case tar.TypeDir:
		return syscall.S_IFDIR | perm
	case tar.TypeSymlink:
		return syscall.S_IFLNK | perm
	default:
		return syscall.S_IFREG | perm
	}
}

// addImplicitDirs creates records for parent directories the archive did
// not list, including the root.
func addImplicitDirs(records map[string]Record) {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	for _, name := range names {
		for dir := name; dir != ""; {
			dir = path.Dir(dir)
			if dir == "." {
				dir = ""
			}
			if _, ok := records[dir]; ok {
				break
			}
			records[dir] = Record{
				Mode:  u32(syscall.S_IFDIR | 0755),
				Size:  i64(0),
				Nlink: u32(1),
			}
		}
	}
	if _, ok := records[""]; !ok {
		records[""] = Record{Mode: u32(syscall.S_IFDIR | 0755), Size: i64(0), Nlink: u32(1)}
	}
}

// extractDefault finds the most common value of a field and removes it from
// every record carrying it. Values shared by fewer than min records are left
// alone.
func extractDefault[T cmp.Ordered](records map[string]Record, field func(*Record) **T, min int) (*T, int) {
	counts := make(map[T]int)
	for _, rec := range records {
		if v := *field(&rec); v != nil {
			counts[*v]++
		}
	}

	var (
		best  T
		count int
	)
	for v, c := range counts {
		if c > count || (c == count && v < best) {
			best, count = v, c
		}
	}
	if count < min {
		return nil, 0
	}

	for name, rec := range records {
		if v := field(&rec); *v != nil && **v == best {
			*v = nil
			records[name] = rec
		}
	}
	return &best, count
}

func u32(v uint32) *uint32 { return &v }
func i64(v int64) *int64   { return &v }
