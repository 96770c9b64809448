package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest is an expected content hash. A bare hex string is a SHA-256
// digest, which is what existing snapshots carry.
// BLAKE3 digests are written as "blake3:<hex>".
type Digest struct {
	Algorithm string
	Hex       string
}

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

// ParseDigest parses the textual form of a digest. An empty string yields
// the zero Digest, meaning "do not verify".
func ParseDigest(s string) (Digest, error) {
	if s == "" {
		return Digest{}, nil
	}

	algo, sum := AlgorithmSHA256, s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		algo, sum = s[:i], s[i+1:]
	}
	sum = strings.ToLower(sum)

	var size int
	switch algo {
	case AlgorithmSHA256:
		size = sha256.Size
	case AlgorithmBLAKE3:
		size = 32
	default:
		return Digest{}, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	raw, err := hex.DecodeString(sum)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid %s digest %q: %w", algo, sum, err)
	}
	if len(raw) != size {
		return Digest{}, fmt.Errorf("invalid %s digest %q: want %d bytes, got %d", algo, sum, size, len(raw))
	}

	return Digest{Algorithm: algo, Hex: sum}, nil
}

// IsZero reports whether no verification was requested.
func (d Digest) IsZero() bool {
	return d.Hex == ""
}

func (d Digest) String() string {
	if d.IsZero() || d.Algorithm == AlgorithmSHA256 {
		return d.Hex
	}
	return d.Algorithm + ":" + d.Hex
}

// NewHash returns a fresh hash for the digest's algorithm.
func (d Digest) NewHash() hash.Hash {
	if d.Algorithm == AlgorithmBLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Sum renders the hash state in the same form as d.
func (d Digest) Sum(h hash.Hash) Digest {
	return Digest{Algorithm: d.Algorithm, Hex: hex.EncodeToString(h.Sum(nil))}
}
