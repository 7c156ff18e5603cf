package deliverylog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/metrics"
)

const createSentEmailsTable = `
CREATE TABLE IF NOT EXISTS sent_emails (
    id         BIGSERIAL PRIMARY KEY,
    to_address TEXT NOT NULL,
    subject    TEXT NOT NULL DEFAULT '',
    body       TEXT NOT NULL DEFAULT '',
    file_path  TEXT NOT NULL DEFAULT '',
    time       TEXT NOT NULL,
    sent_time  TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertSentEmail = `
INSERT INTO sent_emails (to_address, subject, body, file_path, time, sent_time)
VALUES ($1, $2, $3, $4, $5, $6)`

const listSentEmails = `
SELECT to_address, subject, body, file_path, time, sent_time
FROM sent_emails
ORDER BY id`

// PostgresLog stores delivery records in the sent_emails table. Rows are
// only ever inserted.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog connects to databaseURL, verifies connectivity and creates
// the sent_emails table if needed.
func NewPostgresLog(ctx context.Context, databaseURL string, minConns, maxConns int32, connectTimeout time.Duration) (*PostgresLog, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: parse database URL: %w", err)
	}

	if minConns > 0 {
		config.MinConns = minConns
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("deliverylog: ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createSentEmailsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("deliverylog: create table: %w", err)
	}

	return &PostgresLog{pool: pool}, nil
}

// Append inserts rec.
func (l *PostgresLog) Append(ctx context.Context, rec job.DeliveryRecord) error {
	_, err := l.pool.Exec(ctx, insertSentEmail,
		rec.ToAddress, rec.Subject, rec.Body, rec.FilePath, rec.Time, rec.SentTime)
	if err != nil {
		metrics.DeliveryLogAppendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("deliverylog: insert: %w", err)
	}
	metrics.DeliveryLogAppendsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Records returns every delivery record in insertion order.
func (l *PostgresLog) Records(ctx context.Context) ([]job.DeliveryRecord, error) {
	rows, err := l.pool.Query(ctx, listSentEmails)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: query: %w", err)
	}
	defer rows.Close()

	records := []job.DeliveryRecord{}
	for rows.Next() {
		var rec job.DeliveryRecord
		if err := rows.Scan(&rec.ToAddress, &rec.Subject, &rec.Body, &rec.FilePath, &rec.Time, &rec.SentTime); err != nil {
			return nil, fmt.Errorf("deliverylog: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deliverylog: rows: %w", err)
	}
	return records, nil
}

// Ping verifies database connectivity.
func (l *PostgresLog) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes all connections in the pool.
func (l *PostgresLog) Close() {
	l.pool.Close()
}
