//go:build !unix

package cache

import "os"

// lockFile is a no-op where flock is unavailable; writers in this process
// are still serialized by Cache.persistMu.
func lockFile(_ *os.File) (func(), error) {
	return func() {}, nil
}
