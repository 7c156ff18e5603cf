package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3Scheme = "s3://"

// s3API defines the subset of the S3 client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps uploads in an S3-compatible object store.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Store creates an S3Store with the given client, bucket and key prefix.
func NewS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// NewS3StoreFromConfig builds a real AWS S3 client from cfg. Custom
// endpoints (MinIO and similar) use path-style addressing.
func NewS3StoreFromConfig(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("attachment: s3 bucket is required")
	}

	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("attachment: load aws config: %w", err)
	}

	s3OptFns := []func(*s3.Options){}
	if cfg.S3Endpoint != "" {
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		})
	}

	return NewS3Store(s3.NewFromConfig(awsCfg, s3OptFns...), cfg.S3Bucket, cfg.S3Prefix), nil
}

// Save uploads to <prefix><timestamp>_<name>/<name> and returns an s3:// URL.
func (s *S3Store) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	name := SanitizeFilename(filename)
	if !Allowed(name) {
		return "", fmt.Errorf("%w: %q", ErrDisallowedType, filename)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("attachment: read upload: %w", err)
	}

	k := s.prefix + uploadKey(s.now(), name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &k,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("attachment: s3 put: %w", err)
	}
	return s3Scheme + s.bucket + "/" + k, nil
}

// Open downloads the object behind an s3:// reference.
func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, ok := ParseS3Ref(ref)
	if !ok {
		return nil, fmt.Errorf("attachment: not an s3 reference: %q", ref)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("attachment: s3 get: %w", err)
	}
	return out.Body, nil
}

// ParseS3Ref splits s3://bucket/key.
func ParseS3Ref(ref string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(ref, s3Scheme) {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(strings.TrimPrefix(ref, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// S3FallbackStore saves to S3 and opens both s3:// references and plain
// local paths, so jobs written before the switch to S3 still send.
type S3FallbackStore struct {
	S3    *S3Store
	Local *LocalStore
}

func (s *S3FallbackStore) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	return s.S3.Save(ctx, filename, r)
}

func (s *S3FallbackStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if strings.HasPrefix(ref, s3Scheme) {
		return s.S3.Open(ctx, ref)
	}
	return s.Local.Open(ctx, ref)
}
