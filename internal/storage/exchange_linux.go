//go:build linux

package storage

import (
	"errors"

	"golang.org/x/sys/unix"
)

// exchange atomically swaps the directory entries of a and b.
func exchange(a, b string) error {
	err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_EXCHANGE)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EOPNOTSUPP) {
		return ErrExchangeUnsupported
	}
	return err
}
