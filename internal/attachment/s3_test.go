package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// mockS3Client implements the s3API interface for testing.
type mockS3Client struct {
	objects map[string][]byte
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*params.Bucket+"/"+*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := *params.Bucket + "/" + *params.Key
	data, ok := m.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: stringPtr(fmt.Sprintf("key %q not found", key))}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func stringPtr(s string) *string { return &s }

func TestS3Store_SaveAndOpen(t *testing.T) {
	ctx := context.Background()
	client := newMockS3Client()
	s := NewS3Store(client, "mail", "uploads/")
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	ref, err := s.Save(ctx, "cv.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ref != "s3://mail/uploads/2024-01-02 03-04-05_cv.pdf/cv.pdf" {
		t.Errorf("unexpected ref %q", ref)
	}

	rc, err := s.Open(ctx, ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "pdf bytes" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestS3Store_OpenMissing(t *testing.T) {
	s := NewS3Store(newMockS3Client(), "mail", "")
	_, err := s.Open(context.Background(), "s3://mail/none.pdf")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestS3Store_RejectsDisallowedType(t *testing.T) {
	s := NewS3Store(newMockS3Client(), "mail", "")
	_, err := s.Save(context.Background(), "evil.sh", strings.NewReader("#!/bin/sh"))
	if !errors.Is(err, ErrDisallowedType) {
		t.Errorf("expected ErrDisallowedType, got %v", err)
	}
}

func TestS3FallbackStore_OpensLocalPaths(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	legacy := filepath.Join(dir, "old.pdf")
	if err := os.WriteFile(legacy, []byte("legacy"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store := &S3FallbackStore{S3: NewS3Store(newMockS3Client(), "mail", ""), Local: local}

	ref, err := store.Save(ctx, "new.pdf", strings.NewReader("fresh"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(ref, "s3://") {
		t.Errorf("expected s3 ref, got %q", ref)
	}

	for ref, want := range map[string]string{ref: "fresh", legacy: "legacy"} {
		rc, err := store.Open(ctx, ref)
		if err != nil {
			t.Fatalf("open %s: %v", ref, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != want {
			t.Errorf("open %s: expected %q, got %q", ref, want, data)
		}
	}
}
