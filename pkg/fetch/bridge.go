package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// Bridge performs a fetch and only returns once it has finished. Callers
// treat any error as "the object is not available".
type Bridge interface {
	Fetch(ctx context.Context, req Request) error
}

// InProcess runs the download on the calling goroutine.
type InProcess struct {
	Downloader *Downloader
}

var _ Bridge = (*InProcess)(nil)

func (b *InProcess) Fetch(ctx context.Context, req Request) error {
	d := b.Downloader
	if d == nil {
		d = &Downloader{}
	}
	return d.Download(ctx, req)
}

// Subprocess runs the download as a separate process and waits for its exit
// status. The process is invoked as
//
//	<Executable> <Args...> <url> <dest> <codec> [<digest>]
//
// which matches the "download" command of the thintex binary.
type Subprocess struct {
	Executable string
	Args       []string
	Env        []string
}

var _ Bridge = (*Subprocess)(nil)

// ExitError is returned when the fetch process exits non-zero.
type ExitError struct {
	URL      string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("fetch of %s failed with exit code %d", e.URL, e.ExitCode)
}

func (b *Subprocess) Fetch(ctx context.Context, req Request) error {
	args := append([]string{}, b.Args...)
	args = append(args, req.URL, req.Dest, string(req.Codec))
	if !req.Digest.IsZero() {
		args = append(args, req.Digest.String())
	}

	out := log.StandardLogger().Writer()
	defer out.Close()

	cmd := exec.CommandContext(ctx, b.Executable, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), b.Env...)

	log.WithField("args", args).Debug("spawning fetch process")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{URL: req.URL, ExitCode: exitErr.ExitCode()}
	}
	return err
}
