package store

import "os"

// pathExists returns an error if path does not exist, mirroring the
// idiom the caller already wants: "err != nil means missing".
func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return true, nil
}

// pathExistsErr distinguishes a "directory missing" os error (handled
// gracefully by ListCollections on a not-yet-created data dir) from any
// other I/O failure, which should still propagate.
func pathExistsErr(err error) (exists bool, recognized bool) {
	if os.IsNotExist(err) {
		return false, true
	}
	return false, false
}
