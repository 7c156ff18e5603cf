// Package main provides a CLI tool for sending one scheduled-style email
// straight through the configured relay, bypassing the pending set. It uses
// the same composer and SMTP client as the dispatcher, so it is the quickest
// way to check relay credentials, attachments and DKIM.
//
// Usage:
//
//	test-client --to recipient@example.com --subject "Test" --body "Hello"
//	test-client --to recipient@example.com --file resume/cv.pdf --dry-run
//	test-client --to recipient@example.com --count 10 --rate 2
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sungwon/mail-scheduler/internal/attachment"
	"github.com/sungwon/mail-scheduler/internal/config"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/logger"
	"github.com/sungwon/mail-scheduler/internal/mimeparse"
	"github.com/sungwon/mail-scheduler/internal/transport"
)

type options struct {
	configDir string
	to        string
	subject   string
	body      string
	file      string
	dryRun    bool
	count     int
	rate      float64
}

func main() {
	opts := parseFlags()

	if opts.to == "" {
		fmt.Fprintln(os.Stderr, "error: --to is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load timezone: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	ctx := context.Background()

	files, err := attachment.New(ctx, attachment.Config{
		Type:       cfg.Attachments.Driver,
		Path:       cfg.Attachments.UploadDir,
		S3Bucket:   cfg.Attachments.S3Bucket,
		S3Prefix:   cfg.Attachments.S3Prefix,
		S3Endpoint: cfg.Attachments.S3Endpoint,
		S3Region:   cfg.Attachments.S3Region,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize attachment store: %v\n", err)
		os.Exit(1)
	}

	signer, err := transport.NewDKIMSigner(transport.DKIMConfig{
		Domain:         cfg.DKIM.Domain,
		Selector:       cfg.DKIM.Selector,
		PrivateKeyPath: cfg.DKIM.PrivateKeyPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load DKIM key: %v\n", err)
		os.Exit(1)
	}

	client := transport.NewSMTPClient(transport.Config{
		Host:               cfg.SMTPServer,
		Port:               cfg.SMTPPort,
		Username:           cfg.Username,
		Password:           cfg.Password,
		DisplayName:        cfg.YourName,
		DialTimeout:        cfg.Dispatch.DialTimeout,
		SendTimeout:        cfg.Dispatch.SendTimeout,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	}, log, transport.WithAttachments(files), transport.WithDKIM(signer))

	base := job.Job{
		ToAddress: opts.to,
		Subject:   opts.subject,
		Body:      opts.body,
		FilePath:  opts.file,
		Time:      job.FormatTime(time.Now(), loc),
	}

	fmt.Printf("Mail Scheduler Test Client\n")
	fmt.Printf("  Relay:    %s\n", cfg.SMTPAddr())
	fmt.Printf("  From:     %s\n", cfg.Username)
	fmt.Printf("  To:       %s\n", opts.to)
	if opts.file != "" {
		fmt.Printf("  File:     %s\n", opts.file)
	}
	fmt.Printf("  DKIM:     %t\n", signer != nil)
	fmt.Println()

	if opts.dryRun {
		if err := dryRun(ctx, client, base); err != nil {
			fmt.Fprintf(os.Stderr, "dry run failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var (
		successCount int
		failCount    int
		totalSend    time.Duration
	)

	interval := time.Duration(0)
	if opts.count > 1 && opts.rate > 0 {
		interval = time.Duration(float64(time.Second) / opts.rate)
	}

	for i := 0; i < opts.count; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}

		seq := i + 1
		j := base
		if opts.count > 1 {
			j.Subject = fmt.Sprintf("%s [%d/%d]", opts.subject, seq, opts.count)
			j.Body = fmt.Sprintf("%s\n\n-- Email %d of %d --", opts.body, seq, opts.count)
		}

		sendStart := time.Now()
		err := client.Send(ctx, j)
		sendDuration := time.Since(sendStart)
		totalSend += sendDuration

		if err != nil {
			failCount++
			kind := "transient"
			if transport.IsPermanent(err) {
				kind = "permanent"
			}
			fmt.Printf("  [%d/%d] FAIL %s (%s): %v\n", seq, opts.count, kind, sendDuration, err)
		} else {
			successCount++
			fmt.Printf("  [%d/%d] OK   (%s)\n", seq, opts.count, sendDuration)
		}
	}

	fmt.Println()
	fmt.Printf("Results: %d sent, %d failed, total time %s\n", successCount, failCount, totalSend)

	if failCount > 0 {
		os.Exit(1)
	}
}

// dryRun composes the message without contacting the relay and prints what
// a recipient would see.
func dryRun(ctx context.Context, client *transport.SMTPClient, j job.Job) error {
	raw, err := client.Compose(ctx, j)
	if err != nil {
		return err
	}
	parsed, err := mimeparse.Parse(raw)
	if err != nil {
		return err
	}

	fmt.Printf("Composed %d bytes\n", len(raw))
	fmt.Printf("  Subject:    %s\n", parsed.Subject)
	fmt.Printf("  Message-ID: %s\n", parsed.Headers.Get("Message-ID"))
	if sig := parsed.Headers.Get("DKIM-Signature"); sig != "" {
		fmt.Printf("  DKIM:       signed\n")
	}
	fmt.Printf("  Body:       %q\n", truncate(parsed.TextBody, 72))
	for _, a := range parsed.Attachments {
		fmt.Printf("  Attachment: %s (%s, %d bytes)\n", a.Filename, a.ContentType, len(a.Content))
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configDir, "config", "config", "Directory holding config.json or config.yaml")
	flag.StringVar(&opts.to, "to", "", "Recipient email address")
	flag.StringVar(&opts.subject, "subject", "Test Email", "Email subject")
	flag.StringVar(&opts.body, "body", "This is a test email sent by the mail-scheduler test-client.", "Email body")
	flag.StringVar(&opts.file, "file", "", "Attachment reference (local path or s3://bucket/key)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Compose and print the message without sending")
	flag.IntVar(&opts.count, "count", 1, "Number of emails to send")
	flag.Float64Var(&opts.rate, "rate", 1, "Emails per second for batch sending")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: test-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "Sends test emails through the relay configured for the dispatcher.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  test-client --to recipient@example.com\n")
		fmt.Fprintf(os.Stderr, "  test-client --to recipient@example.com --file resume/cv.pdf --dry-run\n")
		fmt.Fprintf(os.Stderr, "  test-client --to recipient@example.com --count 10 --rate 2\n")
	}

	flag.Parse()
	return opts
}
