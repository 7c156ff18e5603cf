// Package attachment stores uploaded files and opens them again when a job
// is sent. References are either local paths or s3://bucket/key URLs.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a referenced attachment does not exist.
var ErrNotFound = errors.New("attachment: not found")

// ErrDisallowedType is returned for uploads whose extension is not allowed.
var ErrDisallowedType = errors.New("attachment: file type not allowed")

// AllowedExtensions lists the upload types accepted by the management API.
var AllowedExtensions = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

// dirTimeLayout names the per-upload directory.
const dirTimeLayout = "2006-01-02 15-04-05"

// Store saves uploads and opens attachment references.
type Store interface {
	// Save stores the upload and returns the reference to put in the job.
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	// Open returns the contents behind ref.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Config holds configuration for creating a Store.
type Config struct {
	Type       string // "local" or "s3"
	Path       string // upload directory for the local store
	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
	S3Region   string
}

// New creates a Store based on cfg. An empty or unknown type falls back to
// local storage with a warning.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocalStore(cfg.Path)
	case "s3":
		s3Store, err := NewS3StoreFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		local, err := NewLocalStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &S3FallbackStore{S3: s3Store, Local: local}, nil
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported or empty attachment store type, defaulting to local")
		return NewLocalStore(cfg.Path)
	}
}

// Allowed reports whether filename has an accepted extension.
func Allowed(filename string) bool {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return false
	}
	return AllowedExtensions[strings.ToLower(filename[i+1:])]
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeFilename reduces an uploaded name to a safe base name: directory
// parts are dropped, whitespace becomes underscores, and anything outside
// letters, digits, dot, dash and underscore is removed.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}

// uploadKey returns "<timestamp>_<name>/<name>".
func uploadKey(now time.Time, name string) string {
	return fmt.Sprintf("%s_%s/%s", now.Format(dirTimeLayout), name, name)
}

// Name returns the file name a reference should be attached under.
func Name(ref string) string {
	ref = strings.ReplaceAll(ref, "\\", "/")
	return path.Base(ref)
}
