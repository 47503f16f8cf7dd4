package mail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store/storetest"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []Message
	calls    int
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("421 service not available")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pending(t *testing.T, db *store.DB) int {
	t.Helper()
	var n int
	require.NoError(t, store.Get(context.Background(), db, &n, `SELECT COUNT(*) FROM email_outbox WHERE sent_at IS NULL`))
	return n
}

func TestEnqueueFillsDefaultsAndFlushSends(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	outbox := NewOutbox("noreply@boipoka.com", "boipoka_admin@boipoka.com")

	require.NoError(t, outbox.Enqueue(ctx, db, PaymentApproved("rafi@example.com", "rafi", "Debdas")))
	assert.ErrorIs(t, outbox.Enqueue(ctx, db, Message{Subject: "x"}), ErrNoRecipient)

	sender := &fakeSender{}
	d := NewDispatcher(db, sender, quietLogger(), WithRetry(1, time.Millisecond))

	n, err := d.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "noreply@boipoka.com", sender.sent[0].From)
	assert.Equal(t, "boipoka_admin@boipoka.com", sender.sent[0].ReplyTo)
	assert.Equal(t, KindPaymentApproved, sender.sent[0].Kind)
	assert.Zero(t, pending(t, db))

	n, err = d.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "sent messages are not resent")
}

func TestFlushRetriesWithinPass(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	require.NoError(t, NewOutbox("a@b.c", "").Enqueue(ctx, db, Returned("u@example.com", "u", "Gitanjali", "now")))

	sender := &fakeSender{failures: 2}
	d := NewDispatcher(db, sender, quietLogger(), WithRetry(3, time.Millisecond))

	n, err := d.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, sender.calls)
}

func TestFailedPassReschedulesThenDelivers(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	require.NoError(t, NewOutbox("a@b.c", "").WithClock(clock).Enqueue(ctx, db, Overdue("u@example.com", "u", "Pather Panchali", "today", 20)))

	sender := &fakeSender{failures: 1}
	d := NewDispatcher(db, sender, quietLogger(),
		WithRetry(1, time.Millisecond),
		WithRescheduleDelay(time.Minute),
		WithDispatchClock(func() time.Time { return now }),
	)

	n, err := d.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, pending(t, db))

	var lastError string
	require.NoError(t, store.Get(ctx, db, &lastError, `SELECT last_error FROM email_outbox`))
	assert.Contains(t, lastError, "421")

	// Not due yet.
	n, err = d.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, sender.calls)

	now = now.Add(2 * time.Minute)
	n, err = d.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, pending(t, db))
}

func TestMaxAttemptsStopsDelivery(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	require.NoError(t, NewOutbox("a@b.c", "").Enqueue(ctx, db, Borrowed("u@example.com", "u", "Srikanta", "a", "b")))

	sender := &fakeSender{failures: 100}
	d := NewDispatcher(db, sender, quietLogger(),
		WithRetry(1, time.Millisecond),
		WithRescheduleDelay(0),
		WithMaxAttempts(2),
	)
	for i := 0; i < 4; i++ {
		_, err := d.Flush(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, sender.calls)
}

func TestSMTPSenderComposesHeaders(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s := NewSMTPSender("smtp.sendgrid.net", 587, "apikey", "secret")
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	msg := ReissueGranted("rumi@example.com", "rumi", "Aranyak", "Jan. 01, 2024, 10:00 AM", "Jan. 15, 2024, 10:00 AM")
	msg.From = "noreply@boipoka.com"
	msg.ReplyTo = "boipoka_admin@boipoka.com"
	require.NoError(t, s.Send(context.Background(), msg))

	assert.Equal(t, "smtp.sendgrid.net:587", gotAddr)
	assert.Equal(t, "noreply@boipoka.com", gotFrom)
	assert.Equal(t, []string{"rumi@example.com"}, gotTo)
	raw := string(gotMsg)
	assert.Contains(t, raw, "Reply-To: boipoka_admin@boipoka.com\r\n")
	assert.Contains(t, raw, "Subject: Reissue Request Grant Acceptance")
	assert.True(t, strings.Contains(raw, "\r\n\r\nDear rumi,\r\n"))
}

func TestSMTPSenderHonoursCancelledContext(t *testing.T) {
	s := NewSMTPSender("localhost", 25, "", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, Message{To: "x@y.z"}), context.Canceled)
}

func TestBuildersAddressRecipient(t *testing.T) {
	for _, msg := range []Message{
		UnpaidFineSuspension("a@x.y", "a", "Basic"),
		IncidentSuspension("a@x.y", "a"),
		Reactivated("a@x.y", "a", "VIP"),
		PaymentNeeded("a@x.y", "a", "Kobita"),
	} {
		assert.Equal(t, "a@x.y", msg.To)
		assert.True(t, strings.HasPrefix(msg.Body, "Dear a,"))
		assert.Contains(t, msg.Body, "Boipoka Admin")
		assert.NotEmpty(t, msg.Kind)
	}
}
