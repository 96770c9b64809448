// Package fetch downloads single objects from the remote store into the
// local cache, verifying their content before they become visible.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Request describes one object to fetch. URL does not carry the codec
// suffix; the downloader appends it.
type Request struct {
	URL    string
	Dest   string
	Codec  Codec
	Digest Digest
}

// ChecksumError is returned when the downloaded bytes do not match the
// expected digest. The destination is never left behind in that case.
type ChecksumError struct {
	URL      string
	Expected Digest
	Actual   Digest
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// TransportError covers failures talking to the remote store.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot download %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("cannot download %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Downloader is the checksum downloader.
type Downloader struct {
	// Client defaults to a client without timeout.
	Client *http.Client
}

// Download fetches req.URL into req.Dest. The body is decoded, hashed and
// written to a temporary file next to the destination, which is renamed
// into place only once the digest matched.
func (d *Downloader) Download(ctx context.Context, req Request) (err error) {
	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	url := req.URL + req.Codec.Suffix()

	logger := log.WithField("url", url).WithField("dest", req.Dest)
	if !req.Digest.IsZero() {
		logger = logger.WithField("digest", req.Digest.String())
	}
	logger.Debug("downloading")
	t0 := time.Now()

	err = os.MkdirAll(filepath.Dir(req.Dest), 0755)
	if err != nil {
		return err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	res, err := client.Do(hreq)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &TransportError{URL: url, StatusCode: res.StatusCode}
	}

	body, err := req.Codec.NewReader(res.Body)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(req.Dest), "."+filepath.Base(req.Dest)+".part-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			logger.WithError(err).Warn("download failed, removed partial file")
		}
	}()

	var (
		src    io.Reader = body
		hasher           = req.Digest.NewHash()
	)
	if !req.Digest.IsZero() {
		src = io.TeeReader(body, hasher)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	if !req.Digest.IsZero() {
		actual := req.Digest.Sum(hasher)
		if actual.Hex != req.Digest.Hex {
			return &ChecksumError{URL: url, Expected: req.Digest, Actual: actual}
		}
	}
	err = tmp.Sync()
	if err != nil {
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	err = os.Rename(tmp.Name(), req.Dest)
	if err != nil {
		return err
	}

	logger.WithField("bytes", n).WithField("duration", time.Since(t0)).WithField("verified", !req.Digest.IsZero()).Debug("download finished")
	return nil
}
