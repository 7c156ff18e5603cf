package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalStore keeps uploads on the local filesystem under a base directory.
type LocalStore struct {
	basePath string
	now      func() time.Time
}

// NewLocalStore creates a LocalStore rooted at basePath, creating the
// directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		basePath = "resume"
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("attachment: create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath, now: time.Now}, nil
}

// Save writes the upload to <base>/<timestamp>_<name>/<name> through a temp
// file and returns that path.
func (s *LocalStore) Save(_ context.Context, filename string, r io.Reader) (string, error) {
	name := SanitizeFilename(filename)
	if !Allowed(name) {
		return "", fmt.Errorf("%w: %q", ErrDisallowedType, filename)
	}

	finalPath := filepath.Join(s.basePath, filepath.FromSlash(uploadKey(s.now(), name)))
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("attachment: create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return "", fmt.Errorf("attachment: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("attachment: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("attachment: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("attachment: rename temp file: %w", err)
	}
	return finalPath, nil
}

// Open opens a local path. Relative paths resolve against the working
// directory, the way references written by earlier uploads are stored.
func (s *LocalStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("attachment: open %s: %w", ref, err)
	}
	return f, nil
}
