package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/mail-scheduler/internal/job"
)

const defaultStream = "mail-scheduler:dead-letter"

// RedisSink appends dead-lettered jobs to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink creates a RedisSink writing to stream.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = defaultStream
	}
	return &RedisSink{client: client, stream: stream}
}

// Put adds rec to the stream.
func (s *RedisSink) Put(ctx context.Context, rec job.DeadLetterRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("deadletter: marshal record: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("deadletter: xadd to %s: %w", s.stream, err)
	}
	return nil
}

// Records returns every entry of the stream, oldest first. Entries that
// cannot be decoded are skipped.
func (s *RedisSink) Records(ctx context.Context) ([]job.DeadLetterRecord, error) {
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter: xrange %s: %w", s.stream, err)
	}

	records := make([]job.DeadLetterRecord, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var rec job.DeadLetterRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
