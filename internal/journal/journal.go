// Package journal records message traffic seen by the bot.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/wabot/wabot/pkg/logger"
)

// Direction of a journaled message.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Entry is one journaled message.
type Entry struct {
	Direction Direction
	Chat      string
	Sender    string
	Name      string
	Body      string
	MessageID string
	HasMedia  bool
	At        time.Time
}

// Journal persists traffic entries.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// LogJournal writes entries to a structured logger.
type LogJournal struct {
	log logger.Logger
}

// NewLog returns a LogJournal writing to l. A nil l uses the global logger.
func NewLog(l logger.Logger) *LogJournal {
	if l == nil {
		l = logger.Log
	}
	return &LogJournal{log: l.With("component", "journal")}
}

func (j *LogJournal) Record(_ context.Context, e Entry) error {
	j.log.Info("Traffic",
		"direction", e.Direction,
		"chat", e.Chat,
		"from", e.Sender,
		"name", e.Name,
		"body", e.Body,
		"id", e.MessageID,
		"media", e.HasMedia,
		"at", e.At.Format(time.RFC3339),
	)
	return nil
}

func (j *LogJournal) Close() error { return nil }

// Multi fans entries out to every journal and joins their errors.
type Multi []Journal

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Personal.AI order the ending
