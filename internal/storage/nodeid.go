package storage

import (
	"hash/fnv"
	"os"
)

// fallbackNodeID derives a pseudo identity on platforms without inode
// numbers. It is stable per name only, so renames read as delete+create.
func fallbackNodeID(info os.FileInfo) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(info.Name()))
	return h.Sum64()
}
