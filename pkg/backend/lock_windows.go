//go:build windows

package backend

import (
	"fmt"
	"os"
)

// lockFile creates the lock file exclusively. An existing file means another
// process holds the journal. The file is only removed by unlockFile, so after
// a crash it stays behind and the journal cannot be opened until the stale
// lock file is deleted by hand.
func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return f, nil
}

// unlockFile removes the lock file
func unlockFile(f *os.File) {
	name := f.Name()
	f.Close()
	os.Remove(name)
}
