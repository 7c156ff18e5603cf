package transport

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// Attachment is a file carried by a message.
type Attachment struct {
	Name string
	Data []byte
}

// BuildMessage renders j as a multipart/mixed message with a plain-text part
// and, when att is non-nil, one base64 attachment part.
func BuildMessage(from mail.Address, j job.Job, att *Attachment, date time.Time, messageID string) ([]byte, error) {
	to, err := mail.ParseAddress(j.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("parse recipient %q: %w", j.ToAddress, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	sb.WriteString(fmt.Sprintf("To: %s\r\n", to.String()))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", j.Subject)))
	sb.WriteString(fmt.Sprintf("Date: %s\r\n", date.Format(time.RFC1123Z)))
	sb.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary()))
	sb.WriteString("\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(text)
	if _, err := qp.Write([]byte(normalizeNewlines(j.Body))); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	if att != nil {
		contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(att.Name)))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType(contentType, map[string]string{"name": att.Name})},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.Name})},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(part, att.Data); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	return append([]byte(sb.String()), body.Bytes()...), nil
}

// NewMessageID returns a Message-ID in the sender's domain.
func NewMessageID(from string, now time.Time) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i+1 < len(from) {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%d.%s@%s>", now.UnixNano(), hex.EncodeToString(b[:]), domain)
}

// writeBase64Lines writes data base64-encoded in 76-column lines.
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	if encoded == "" {
		return nil
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
