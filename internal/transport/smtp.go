package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"os"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/attachment"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/metrics"
)

// Config holds relay connection settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	DisplayName string

	// DialTimeout bounds connection setup and the TLS handshake.
	DialTimeout time.Duration
	// SendTimeout bounds the whole send, from dial to QUIT.
	SendTimeout time.Duration

	InsecureSkipVerify bool
}

// Opener opens attachment references. attachment.Store satisfies it.
type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

type fileOpener struct{}

func (fileOpener) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", attachment.ErrNotFound, ref)
		}
		return nil, err
	}
	return f, nil
}

// SMTPClient sends jobs over an implicit-TLS SMTP session authenticated with
// SASL PLAIN. Every send uses a fresh connection.
type SMTPClient struct {
	cfg         Config
	from        mail.Address
	attachments Opener
	signer      *DKIMSigner
	log         zerolog.Logger
	now         func() time.Time
	tlsConfig   *tls.Config
}

// Option configures an SMTPClient.
type Option func(*SMTPClient)

// WithAttachments sets where attachment references are opened from. The
// default opens them as local paths.
func WithAttachments(o Opener) Option {
	return func(c *SMTPClient) { c.attachments = o }
}

// WithDKIM signs every message with s.
func WithDKIM(s *DKIMSigner) Option {
	return func(c *SMTPClient) { c.signer = s }
}

// WithTLSConfig replaces the client TLS configuration.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *SMTPClient) { c.tlsConfig = tc }
}

// NewSMTPClient creates an SMTPClient for cfg.
func NewSMTPClient(cfg Config, log zerolog.Logger, opts ...Option) *SMTPClient {
	c := &SMTPClient{
		cfg:         cfg,
		from:        mail.Address{Name: cfg.DisplayName, Address: cfg.Username},
		attachments: fileOpener{},
		log:         log.With().Str("component", "transport").Logger(),
		now:         time.Now,
		tlsConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // Opt-in for relays with self-signed certs.
			MinVersion:         tls.VersionTLS12,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers j. Failures are returned as *Error.
func (c *SMTPClient) Send(ctx context.Context, j job.Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Stage: StageInternal, Err: fmt.Errorf("panic: %v", r)}
		}
		status := "sent"
		if err != nil {
			status = "failed"
		}
		metrics.SendsTotal.WithLabelValues(status).Inc()
		metrics.SendDuration.Observe(time.Since(start).Seconds())
	}()

	if c.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SendTimeout)
		defer cancel()
	}

	msg, err := c.compose(ctx, j)
	if err != nil {
		return err
	}
	// The envelope takes the bare address; To: keeps any display name.
	rcpt, err := mail.ParseAddress(j.ToAddress)
	if err != nil {
		return &Error{Stage: StageCompose, Permanent: true, Err: fmt.Errorf("parse recipient %q: %w", j.ToAddress, err)}
	}
	if err := c.deliver(ctx, rcpt.Address, msg); err != nil {
		return err
	}

	c.log.Debug().
		Str("to_address", j.ToAddress).
		Int("size", len(msg)).
		Dur("duration", time.Since(start)).
		Msg("relay accepted message")
	return nil
}

// Compose renders the message Send would transmit for j, signed when DKIM is
// configured.
func (c *SMTPClient) Compose(ctx context.Context, j job.Job) ([]byte, error) {
	return c.compose(ctx, j)
}

func (c *SMTPClient) compose(ctx context.Context, j job.Job) ([]byte, error) {
	var att *Attachment
	if j.HasAttachment() {
		a, err := c.readAttachment(ctx, j.FilePath)
		if err != nil {
			return nil, err
		}
		att = a
	}

	now := c.now()
	msg, err := BuildMessage(c.from, j, att, now, NewMessageID(c.from.Address, now))
	if err != nil {
		return nil, &Error{Stage: StageCompose, Permanent: true, Err: err}
	}

	signed, err := c.signer.Sign(msg, c.from.Address)
	if err != nil {
		return nil, &Error{Stage: StageCompose, Err: err}
	}
	return signed, nil
}

func (c *SMTPClient) readAttachment(ctx context.Context, ref string) (*Attachment, error) {
	rc, err := c.attachments.Open(ctx, ref)
	if err != nil {
		return nil, &Error{
			Stage:     StageAttachment,
			Permanent: errors.Is(err, attachment.ErrNotFound),
			Err:       err,
		}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &Error{Stage: StageAttachment, Err: fmt.Errorf("read %s: %w", ref, err)}
	}
	return &Attachment{Name: attachment.Name(ref), Data: data}, nil
}

func (c *SMTPClient) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.cfg.DialTimeout},
		Config:    c.tlsConfig,
	}
	dialCtx := ctx
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return &Error{Stage: StageDial, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client := gosmtp.NewClient(conn)
	defer client.Close()

	if c.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)); err != nil {
			// Credential problems are not a property of the job.
			return smtpError(StageAuth, err, false)
		}
	}
	if err := client.Mail(c.from.Address, nil); err != nil {
		return smtpError(StageMail, err, true)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return smtpError(StageRcpt, err, true)
	}

	w, err := client.Data()
	if err != nil {
		return smtpError(StageData, err, true)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return smtpError(StageData, err, true)
	}
	if err := w.Close(); err != nil {
		return smtpError(StageData, err, true)
	}

	if err := client.Quit(); err != nil {
		c.log.Warn().Err(err).Msg("QUIT failed after message was accepted")
	}
	return nil
}

// smtpError wraps err, marking 5xx replies permanent when the stage allows it.
func smtpError(stage string, err error, permanentOn5xx bool) error {
	te := &Error{Stage: stage, Err: err}
	var se *gosmtp.SMTPError
	if errors.As(err, &se) {
		te.Code = se.Code
		te.Permanent = permanentOn5xx && se.Code >= 500 && se.Code < 600
	}
	return te
}
