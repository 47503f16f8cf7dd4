package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

var ErrNoRecipient = errors.New("mail: message has no recipient")

// Outbox stores messages in the caller's transaction. Nothing is sent until
// the Dispatcher picks the rows up, so a rolled back operation sends nothing.
type Outbox struct {
	from    string
	replyTo string
	now     func() time.Time
}

func NewOutbox(from, replyTo string) *Outbox {
	return &Outbox{from: from, replyTo: replyTo, now: time.Now}
}

// WithClock overrides the outbox time source.
func (o *Outbox) WithClock(now func() time.Time) *Outbox {
	o.now = now
	return o
}

// Enqueue stores msg, filling in the default sender and reply-to.
func (o *Outbox) Enqueue(ctx context.Context, q store.Querier, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if msg.From == "" {
		msg.From = o.from
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = o.replyTo
	}
	now := o.now().UTC()
	_, err := store.Exec(ctx, q, `
		INSERT INTO email_outbox (id, kind, subject, body, sender, recipient, reply_to, attempts, last_error, created_at, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
	`, uuid.New(), string(msg.Kind), msg.Subject, msg.Body, msg.From, msg.To, msg.ReplyTo, now, now)
	if err != nil {
		return fmt.Errorf("enqueue %s email: %w", msg.Kind, err)
	}
	return nil
}
