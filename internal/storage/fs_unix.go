//go:build unix

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

func nodeID(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*unix.Stat_t); ok {
		return uint64(st.Ino)
	}
	return fallbackNodeID(info)
}

func statNode(path string) (dev, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}
