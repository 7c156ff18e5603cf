package fsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// AppendDocument appends v to the "emails" array of the JSON document at
// path, creating {"emails": []} first when the file is missing. The write is
// atomic and serialized by mu and an advisory file lock.
func AppendDocument(path string, mu *sync.Mutex, v any) error {
	entry, err := Encode(v, "")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	unlock, err := Lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	data, ok, err := ReadFile(path)
	if err != nil {
		return err
	}

	doc := job.Document[json.RawMessage]{Emails: []json.RawMessage{}}
	if ok && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if doc.Emails == nil {
			doc.Emails = []json.RawMessage{}
		}
	}
	doc.Emails = append(doc.Emails, entry)

	out, err := Encode(doc, "    ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return WriteAtomic(path, out)
}

// Encode renders v as JSON indented by indent, leaving <, > and & as they
// are so text written by other producers survives a rewrite.
func Encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ReadDocument decodes the "emails" array of the JSON document at path. A
// missing or empty file yields an empty slice.
func ReadDocument[T any](path string) ([]T, error) {
	data, ok, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	items := []T{}
	if !ok || len(bytes.TrimSpace(data)) == 0 {
		return items, nil
	}

	var doc job.Document[T]
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Emails != nil {
		items = doc.Emails
	}
	return items, nil
}
