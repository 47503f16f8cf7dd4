package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher drains the outbox. Each message gets a short in-process retry
// with exponential backoff; if that fails the row is rescheduled, so delivery
// is at least once until MaxAttempts passes have failed.
type Dispatcher struct {
	db          *store.DB
	sender      Sender
	logger      *slog.Logger
	now         func() time.Time
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	tries       uint
	newBackOff  func() backoff.BackOff

	sent   metric.Int64Counter
	failed metric.Int64Counter
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) { d.batchSize = n }
}

// WithMaxAttempts caps how many dispatch passes may fail before a message is
// left for an operator.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// WithRetry sets the in-pass retry budget and the first backoff interval.
func WithRetry(tries uint, initial time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.tries = tries
		d.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = 30 * initial
			return b
		}
	}
}

// WithRescheduleDelay sets the base delay before a failed message is retried
// on a later pass. It doubles with every failed pass.
func WithRescheduleDelay(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.retryDelay = d }
}

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(db *store.DB, sender Sender, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		db:          db,
		sender:      sender,
		logger:      logger,
		now:         time.Now,
		batchSize:   50,
		maxAttempts: 5,
		retryDelay:  time.Minute,
		tries:       3,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(d)
	}

	meter := otel.Meter("boipoka/mail")
	d.sent, _ = meter.Int64Counter("mail.sent", metric.WithDescription("Emails delivered"))
	d.failed, _ = meter.Int64Counter("mail.failed", metric.WithDescription("Failed email delivery passes"))
	return d
}

// Run flushes the outbox every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.Flush(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("mail dispatch pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type outboxRow struct {
	ID            uuid.UUID `db:"id"`
	Kind          string    `db:"kind"`
	Subject       string    `db:"subject"`
	Body          string    `db:"body"`
	Sender        string    `db:"sender"`
	Recipient     string    `db:"recipient"`
	ReplyTo       string    `db:"reply_to"`
	Attempts      int       `db:"attempts"`
	NextAttemptAt time.Time `db:"next_attempt_at"`
}

// Flush makes one delivery pass and returns how many messages were sent.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	var rows []outboxRow
	err := store.Select(ctx, d.db, &rows, `
		SELECT id, kind, subject, body, sender, recipient, reply_to, attempts, next_attempt_at
		FROM email_outbox
		WHERE sent_at IS NULL AND attempts < ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`, d.maxAttempts, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select outbox: %w", err)
	}

	sent := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if row.NextAttemptAt.After(d.now()) {
			continue
		}
		if d.deliver(ctx, row) {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, row outboxRow) bool {
	msg := Message{
		Kind:    Kind(row.Kind),
		Subject: row.Subject,
		Body:    row.Body,
		From:    row.Sender,
		To:      row.Recipient,
		ReplyTo: row.ReplyTo,
	}
	attrs := metric.WithAttributes(attribute.String("mail.kind", row.Kind))

	_, sendErr := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.sender.Send(ctx, msg)
	}, backoff.WithBackOff(d.newBackOff()), backoff.WithMaxTries(d.tries))

	now := d.now().UTC()
	if sendErr == nil {
		if _, err := store.Exec(ctx, d.db, `
			UPDATE email_outbox SET sent_at = ?, attempts = attempts + 1, last_error = '' WHERE id = ?
		`, now, row.ID); err != nil {
			d.logger.Error("mark email sent", "id", row.ID, "error", err)
		}
		d.sent.Add(ctx, 1, attrs)
		return true
	}

	attempts := row.Attempts + 1
	next := now.Add(d.retryDelay << min(attempts-1, 10))
	failure := apperr.Wrap(apperr.KindDeliveryFailure, "email not delivered", sendErr)
	d.failed.Add(ctx, 1, attrs)
	d.logger.Error("email delivery failed",
		"id", row.ID,
		"kind", row.Kind,
		"to", row.Recipient,
		"attempt", attempts,
		"final", attempts >= d.maxAttempts,
		"error", failure,
	)
	if _, err := store.Exec(ctx, d.db, `
		UPDATE email_outbox SET attempts = ?, last_error = ?, next_attempt_at = ? WHERE id = ?
	`, attempts, sendErr.Error(), next, row.ID); err != nil {
		d.logger.Error("reschedule email", "id", row.ID, "error", err)
	}
	return false
}
