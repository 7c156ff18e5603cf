// Package mimeparse reads back the messages the transport builds: headers,
// the plain-text body and any attachments.
package mimeparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// ParsedMessage holds the structured parts extracted from a raw message.
type ParsedMessage struct {
	Headers     mail.Header
	Subject     string
	TextBody    string
	Attachments []Attachment
}

// Attachment is one non-text part.
type Attachment struct {
	Filename    string
	ContentType string
	Disposition string
	Content     []byte
}

// Parse parses a raw RFC 5322 message. Encoded-word subjects are decoded.
func Parse(raw []byte) (*ParsedMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mimeparse: failed to read message: %w", err)
	}

	parsed := &ParsedMessage{Headers: msg.Header}
	subject := msg.Header.Get("Subject")
	if decoded, err := new(mime.WordDecoder).DecodeHeader(subject); err == nil {
		subject = decoded
	}
	parsed.Subject = subject

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("mimeparse: failed to parse Content-Type: %w", err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		body, err := readBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return nil, fmt.Errorf("mimeparse: failed to read body: %w", err)
		}
		parsed.TextBody = string(body)
		return parsed, nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("mimeparse: multipart message missing boundary")
	}
	if err := walkMultipart(msg.Body, boundary, parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// walkMultipart recursively processes a multipart body. The first text/plain
// part is the body; every other leaf part is an attachment.
func walkMultipart(r io.Reader, boundary string, parsed *ParsedMessage) error {
	mr := multipart.NewReader(r, boundary)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mimeparse: failed to read next part: %w", err)
		}

		mediaType := "text/plain"
		var params map[string]string
		if ct := part.Header.Get("Content-Type"); ct != "" {
			mediaType, params, err = mime.ParseMediaType(ct)
			if err != nil {
				mediaType = "application/octet-stream"
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if nested := params["boundary"]; nested != "" {
				if err := walkMultipart(part, nested, parsed); err != nil {
					return err
				}
			}
			continue
		}

		body, err := readBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return fmt.Errorf("mimeparse: failed to read part body: %w", err)
		}

		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if mediaType == "text/plain" && disposition != "attachment" && parsed.TextBody == "" {
			parsed.TextBody = string(body)
			continue
		}

		filename := dispParams["filename"]
		if filename == "" {
			filename = params["name"]
		}
		parsed.Attachments = append(parsed.Attachments, Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Disposition: disposition,
			Content:     body,
		})
	}
}

// readBody reads r, decoding base64 or quoted-printable transfer encodings.
func readBody(r io.Reader, transferEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}
