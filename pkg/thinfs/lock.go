package thinfs

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const lockFilename = ".lock"

// lockCacheDir takes an exclusive advisory lock on dir. flock locks belong
// to the open file, so a second attempt fails even within the same process.
func lockCacheDir(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFilename), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		f.Close()
		return nil, ErrAlreadyMounted
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func unlockCacheDir(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
