//go:build !unix

package fsutil

// Lock is a no-op where flock is unavailable; callers still serialize
// in-process writers with their own mutex.
func Lock(path string) (func() error, error) {
	return func() error { return nil }, nil
}
