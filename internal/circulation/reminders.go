package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/mail"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/membership"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/policy"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/subscription"
)

// mailLoans queues one message per loan matching where for the user, in a
// single transaction. args bind the placeholders of where.
func (s *service) mailLoans(ctx context.Context, name string, userID uuid.UUID, where string, build func(*membership.User, *Loan) mail.Message, args ...any) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation."+name,
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	sent := 0
	err := s.db.InTx(ctx, "circulation."+name, func(ctx context.Context, tx *store.Tx) error {
		user, err := membership.Lookup(ctx, tx, userID)
		if err != nil {
			return err
		}
		var loans []*Loan
		if err := store.Select(ctx, tx, &loans,
			loanSelect+` WHERE b.user_id = ? AND `+where+` ORDER BY b.borrowed_on DESC`, append([]any{userID}, args...)...); err != nil {
			return fmt.Errorf("list loans: %w", err)
		}
		for _, l := range loans {
			if err := s.outbox.Enqueue(ctx, tx, build(user, l)); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("mail.queued", sent))
	return sent, nil
}

// SendOverdueReminders mails one reminder per overdue loan, priced at the
// tier's daily rate.
func (s *service) SendOverdueReminders(ctx context.Context, userID uuid.UUID) (int, error) {
	sub, err := subscription.GetByUser(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	rate := subscription.PenaltyRateFor(sub.Tier)
	now := s.now().UTC()
	return s.mailLoans(ctx, "send_overdue", userID,
		`b.returned_at IS NULL AND b.archived_at IS NULL AND b.due_date < ?`,
		func(u *membership.User, l *Loan) mail.Message {
			return mail.Overdue(u.Email, u.Username, l.BookTitle, s.stamp(l.DueDate), policy.OverduePenalty(rate, l.DueDate, now))
		},
		now,
	)
}

func (s *service) SendPaymentNeeded(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.mailLoans(ctx, "send_payment_needed", userID,
		`b.is_damaged_or_lost = TRUE AND b.fine_paid = FALSE AND b.archived_at IS NULL`,
		func(u *membership.User, l *Loan) mail.Message {
			return mail.PaymentNeeded(u.Email, u.Username, l.BookTitle)
		},
	)
}

func (s *service) SendPaymentApproved(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.mailLoans(ctx, "send_payment_approved", userID,
		`b.is_damaged_or_lost = TRUE AND b.fine_paid_approved = TRUE`,
		func(u *membership.User, l *Loan) mail.Message {
			return mail.PaymentApproved(u.Email, u.Username, l.BookTitle)
		},
	)
}

func (s *service) SendBorrowedSummary(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.mailLoans(ctx, "send_borrowed_summary", userID,
		`b.returned_at IS NULL`,
		func(u *membership.User, l *Loan) mail.Message {
			return mail.Borrowed(u.Email, u.Username, l.BookTitle, s.stamp(l.BorrowedOn), s.stamp(l.DueDate))
		},
	)
}

func (s *service) SendReturnedSummary(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.mailLoans(ctx, "send_returned_summary", userID,
		`b.returned_at IS NOT NULL AND b.is_damaged_or_lost = FALSE`,
		func(u *membership.User, l *Loan) mail.Message {
			return mail.Returned(u.Email, u.Username, l.BookTitle, s.stamp(*l.ReturnedAt))
		},
	)
}

// NotifyDueSoon sends one notification per open loan falling due within a
// day. due_reminded_at keeps a loan from being reminded twice.
func (s *service) NotifyDueSoon(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.notify_due_soon")
	defer span.End()

	now := s.now().UTC()
	sent := 0
	err := s.db.InTx(ctx, "circulation.notify_due_soon", func(ctx context.Context, tx *store.Tx) error {
		var loans []*Loan
		if err := store.Select(ctx, tx, &loans, loanSelect+`
			WHERE b.returned_at IS NULL AND b.archived_at IS NULL AND b.due_reminded_at IS NULL
				AND b.due_date > ? AND b.due_date <= ?
		`, now, now.Add(24*time.Hour)); err != nil {
			return fmt.Errorf("list loans due soon: %w", err)
		}
		for _, l := range loans {
			if !l.DueSoon(now) {
				continue
			}
			if _, err := store.Exec(ctx, tx, `UPDATE borrowings SET due_reminded_at = ? WHERE id = ?`, now, l.ID); err != nil {
				return fmt.Errorf("mark reminded: %w", err)
			}
			if err := s.notifier.Notify(ctx, tx, l.UserID, fmt.Sprintf(
				"Reminder: the book %q is due on %s. Please return it on time to avoid a fine.",
				l.BookTitle, s.stamp(l.DueDate),
			)); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("notifications.sent", sent))
	return sent, nil
}

// RunReminders runs the due-soon sweep every interval until ctx is done.
func RunReminders(ctx context.Context, r Reminders, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.NotifyDueSoon(ctx); err != nil && ctx.Err() == nil {
			logger.Error("due-soon sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
