package thinfs

import (
	"errors"
	"io/fs"
	"syscall"
)

// ErrAlreadyMounted is returned when another mount holds the cache directory.
var ErrAlreadyMounted = errors.New("cache directory is already mounted")

// ToErrno maps err to the code reported to the host framework. Errors that
// carry no errno, e.g. failed fetches, become EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	}
	return syscall.EIO
}
