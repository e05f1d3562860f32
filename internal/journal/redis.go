package journal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisJournal appends entries to a Redis stream.
type RedisJournal struct {
	client *backend.Client
	stream string
	maxLen int64
}

type Option func(*RedisJournal)

// WithStream sets the stream key.
func WithStream(stream string) Option {
	return func(j *RedisJournal) {
		j.stream = stream
	}
}

// WithMaxLen caps the stream length (approximately). Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(j *RedisJournal) {
		j.maxLen = n
	}
}

// NewRedis connects to the Redis server at url (redis://host:port/db).
func NewRedis(url string, opts ...Option) (*RedisJournal, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFromClient(backend.NewClient(o), opts...), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...Option) *RedisJournal {
	j := &RedisJournal{
		client: client,
		stream: "wabot:traffic",
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Ping checks connectivity.
func (j *RedisJournal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}

func (j *RedisJournal) Record(ctx context.Context, e Entry) error {
	args := &backend.XAddArgs{
		Stream: j.stream,
		Values: map[string]interface{}{
			"direction": string(e.Direction),
			"chat":      e.Chat,
			"from":      e.Sender,
			"name":      e.Name,
			"body":      e.Body,
			"id":        e.MessageID,
			"media":     strconv.FormatBool(e.HasMedia),
			"at":        e.At.UTC().Format(time.RFC3339Nano),
		},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}
	if err := j.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("journal xadd %s: %w", j.stream, err)
	}
	return nil
}

func (j *RedisJournal) Close() error {
	return j.client.Close()
}

// Personal.AI order the ending
