// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/catalog"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/journal"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/mail"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/membership"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/notification"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/policy"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/subscription"
)

const borrowingColumns = `id, book_id, subscription_id, user_id, borrowed_on, due_date, returned_at,
	reissue_requested, marked_unread, is_damaged_or_lost, damaged_lost_at, fine_paid,
	fine_paid_approved, fine_paid_at, archived_at, due_reminded_at, version`

const loanSelect = `
	SELECT b.id, b.book_id, b.subscription_id, b.user_id, b.borrowed_on, b.due_date, b.returned_at,
		b.reissue_requested, b.marked_unread, b.is_damaged_or_lost, b.damaged_lost_at, b.fine_paid,
		b.fine_paid_approved, b.fine_paid_at, b.archived_at, b.due_reminded_at, b.version,
		k.title AS book_title
	FROM borrowings b
	JOIN books k ON k.id = b.book_id`

// service implements the Service interface.
type service struct {
	db       *store.DB
	events   *journal.Journal
	notifier notification.Notifier
	outbox   *mail.Outbox
	loc      *time.Location
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	borrows   metric.Int64Counter
	returns   metric.Int64Counter
	incidents metric.Int64Counter
}

// Option configures the service.
type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// NewService creates the borrowing ledger. Every transition is recorded on
// the borrowing's stream in events; dates in messages are shown in loc.
func NewService(db *store.DB, events *journal.Journal, notifier notification.Notifier, outbox *mail.Outbox, loc *time.Location, opts ...Option) Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &service{
		db:       db,
		events:   events,
		notifier: notifier,
		outbox:   outbox,
		loc:      loc,
		logger:   slog.Default(),
		tracer:   otel.Tracer("boipoka/circulation"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("boipoka/circulation")
	s.borrows, _ = meter.Int64Counter("circulation.borrows", metric.WithDescription("Books borrowed"))
	s.returns, _ = meter.Int64Counter("circulation.returns", metric.WithDescription("Books returned"))
	s.incidents, _ = meter.Int64Counter("circulation.incidents", metric.WithDescription("Damage/loss reports"))
	return s
}

func (s *service) stamp(t time.Time) string {
	return notification.Stamp(t, s.loc)
}

func spanAttrs(userID, bookID uuid.UUID) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("book.id", bookID.String()),
	)
}

// transition applies set to the borrowing row, guarded by its version, and
// appends the matching event to its stream. A stale version is a conflict.
func (s *service) transition(ctx context.Context, tx *store.Tx, b *Borrowing, eventType string, data any, set string, args ...any) error {
	n, err := store.Exec(ctx, tx,
		`UPDATE borrowings SET `+set+`, version = version + 1 WHERE id = ? AND version = ?`,
		append(args, b.ID, b.Version)...,
	)
	if err != nil {
		return fmt.Errorf("update borrowing: %w", err)
	}
	if n == 0 {
		return journal.ErrConcurrencyConflict
	}
	event, err := journal.NewEvent(eventType, data, map[string]string{"user_id": b.UserID.String()})
	if err != nil {
		return err
	}
	if err := s.events.Append(ctx, tx, b.ID, aggregateType, b.Version, event); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	b.Version++
	return nil
}

func getBorrowing(ctx context.Context, q store.Querier, query string, args ...any) (*Borrowing, error) {
	b := &Borrowing{}
	err := store.Get(ctx, q, b, query, args...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) byID(ctx context.Context, tx *store.Tx, id uuid.UUID) (*Borrowing, error) {
	b, err := getBorrowing(ctx, tx, `SELECT `+borrowingColumns+` FROM borrowings WHERE id = ?`+tx.ForUpdate(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBorrowingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get borrowing: %w", err)
	}
	return b, nil
}

// openLoan is the user's unreturned loan of the book.
func (s *service) openLoan(ctx context.Context, tx *store.Tx, userID, bookID uuid.UUID) (*Borrowing, error) {
	b, err := getBorrowing(ctx, tx, `
		SELECT `+borrowingColumns+` FROM borrowings
		WHERE user_id = ? AND book_id = ? AND returned_at IS NULL AND archived_at IS NULL
		ORDER BY borrowed_on DESC
		LIMIT 1`+tx.ForUpdate(), userID, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoLoan
	}
	if err != nil {
		return nil, fmt.Errorf("get open loan: %w", err)
	}
	return b, nil
}

// openIncident is the user's unarchived damage/loss report for the book.
func (s *service) openIncident(ctx context.Context, tx *store.Tx, userID, bookID uuid.UUID) (*Borrowing, error) {
	b, err := getBorrowing(ctx, tx, `
		SELECT `+borrowingColumns+` FROM borrowings
		WHERE user_id = ? AND book_id = ? AND is_damaged_or_lost = TRUE AND archived_at IS NULL
		ORDER BY damaged_lost_at DESC
		LIMIT 1`+tx.ForUpdate(), userID, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoIncident
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return b, nil
}

func unarchivedIncidents(ctx context.Context, q store.Querier, userID uuid.UUID) ([]*Borrowing, error) {
	var rows []*Borrowing
	err := store.Select(ctx, q, &rows, `
		SELECT `+borrowingColumns+` FROM borrowings
		WHERE user_id = ? AND is_damaged_or_lost = TRUE AND archived_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return rows, nil
}

// syncHistory copies the fine fields of b onto its damage/loss history row.
func syncHistory(ctx context.Context, q store.Querier, b *Borrowing, deleted bool) error {
	_, err := store.Exec(ctx, q, `
		UPDATE damaged_lost_history
		SET fine_paid = ?, fine_paid_approved = ?, fine_paid_at = ?, is_deleted = ?
		WHERE borrowing_id = ?
	`, b.FinePaid, b.FinePaidApproved, b.FinePaidAt, deleted, b.ID)
	if err != nil {
		return fmt.Errorf("sync damage history: %w", err)
	}
	return nil
}

// Borrow lends one copy of the book to the user.
//
// Business Rules:
//
//	GIVEN: a user with a subscription and a book
//	WHEN: the user borrows the book
//	THEN: the quota is checked first, then the subscription, the book and the shelf
//	AND: a refusal at the quota leaves a notification and changes nothing else
//	AND: the last copy can go to only one of two racing borrowers
func (s *service) Borrow(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow", spanAttrs(userID, bookID))
	defer span.End()

	var b *Borrowing
	var refused error
	err := s.db.InTx(ctx, "circulation.borrow", func(ctx context.Context, tx *store.Tx) error {
		book, err := catalog.Get(ctx, tx, bookID)
		if err != nil {
			return err
		}
		sub, err := subscription.LockByUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		held, err := subscription.OpenLoanCount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if held >= sub.MaxBooks {
			refused = ErrLimitReached
			return s.notifier.Notify(ctx, tx, userID,
				"Sorry, you have reached the limit of borrowed books for your subscription")
		}
		if !sub.IsActive {
			return ErrSuspended
		}
		if !book.IsAvailable {
			return catalog.ErrUnavailable
		}
		if _, err := s.openLoan(ctx, tx, userID, bookID); err == nil {
			return ErrAlreadyBorrowed
		} else if !errors.Is(err, ErrNoLoan) {
			return err
		}

		now := s.now().UTC()
		if err := catalog.TakeCopy(ctx, tx, bookID, now); err != nil {
			return err
		}

		b = &Borrowing{
			ID:             uuid.New(),
			BookID:         bookID,
			SubscriptionID: uuid.NullUUID{UUID: sub.ID, Valid: true},
			UserID:         userID,
			BorrowedOn:     now,
			DueDate:        now.Add(policy.LoanPeriod),
			Version:        1,
		}
		event, err := journal.NewEvent(EventBorrowed, borrowedEvent{
			BookID: bookID, UserID: userID, BorrowedOn: b.BorrowedOn, DueDate: b.DueDate,
		}, map[string]string{"user_id": userID.String()})
		if err != nil {
			return err
		}
		if err := s.events.Append(ctx, tx, b.ID, aggregateType, 0, event); err != nil {
			return fmt.Errorf("record %s: %w", EventBorrowed, err)
		}
		if _, err := store.Exec(ctx, tx, `
			INSERT INTO borrowings (id, book_id, subscription_id, user_id, borrowed_on, due_date, version)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.BookID, b.SubscriptionID, b.UserID, b.BorrowedOn, b.DueDate, b.Version); err != nil {
			return fmt.Errorf("insert borrowing: %w", err)
		}

		return s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
			"You have successfully borrowed the book %s at %s.\nYou have to return this book by %s.\nOtherwise, you will be fined.",
			book.Title, s.stamp(b.BorrowedOn), s.stamp(b.DueDate),
		))
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if refused != nil {
		span.AddEvent("circulation.limit_reached")
		return nil, refused
	}
	s.borrows.Add(ctx, 1)
	return b, nil
}

// Return closes the user's open loan of the book and shelves the copy.
func (s *service) Return(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return", spanAttrs(userID, bookID))
	defer span.End()

	var b *Borrowing
	err := s.db.InTx(ctx, "circulation.return", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if b, err = s.openLoan(ctx, tx, userID, bookID); err != nil {
			return err
		}
		if b.IsDamagedOrLost {
			return ErrReported
		}
		book, err := catalog.Get(ctx, tx, bookID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if err := s.transition(ctx, tx, b, EventReturned, stampEvent{At: now},
			`returned_at = ?, reissue_requested = FALSE`, now); err != nil {
			return err
		}
		b.ReturnedAt, b.ReissueRequested = &now, false

		if err := catalog.ReturnCopy(ctx, tx, bookID, now); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
			"You have successfully returned the book %s at %s", book.Title, s.stamp(now),
		))
	})
	if err != nil {
		return nil, err
	}
	s.returns.Add(ctx, 1)
	return b, nil
}

func (s *service) RequestReissue(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.request_reissue", spanAttrs(userID, bookID))
	defer span.End()

	var b *Borrowing
	err := s.db.InTx(ctx, "circulation.request_reissue", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if b, err = s.openLoan(ctx, tx, userID, bookID); err != nil {
			return err
		}
		if b.IsDamagedOrLost {
			return ErrReported
		}
		if b.ReissueRequested {
			return ErrReissuePending
		}
		book, err := catalog.Get(ctx, tx, bookID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.transition(ctx, tx, b, EventReissueRequested, stampEvent{At: now},
			`reissue_requested = TRUE`); err != nil {
			return err
		}
		b.ReissueRequested = true
		return s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
			"Your reissue request for the book %q has been successfully sent to the Admin.", book.Title,
		))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GrantReissue restarts the loan period of a borrowing with a pending request.
func (s *service) GrantReissue(ctx context.Context, borrowingID uuid.UUID) (*Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.grant_reissue",
		trace.WithAttributes(attribute.String("borrowing.id", borrowingID.String())),
	)
	defer span.End()

	var b *Borrowing
	err := s.db.InTx(ctx, "circulation.grant_reissue", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if b, err = s.byID(ctx, tx, borrowingID); err != nil {
			return err
		}
		if !b.ReissueRequested {
			return ErrNoReissueRequest
		}
		book, err := catalog.Get(ctx, tx, b.BookID)
		if err != nil {
			return err
		}
		user, err := membership.Lookup(ctx, tx, b.UserID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		due := now.Add(policy.LoanPeriod)
		if err := s.transition(ctx, tx, b, EventReissueGranted, dueEvent{BorrowedOn: now, DueDate: due},
			`borrowed_on = ?, due_date = ?, reissue_requested = FALSE, due_reminded_at = NULL`, now, due); err != nil {
			return err
		}
		b.BorrowedOn, b.DueDate, b.ReissueRequested, b.DueRemindedAt = now, due, false, nil

		if err := s.outbox.Enqueue(ctx, tx, mail.ReissueGranted(
			user.Email, user.Username, book.Title, s.stamp(now), s.stamp(due),
		)); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, b.UserID, fmt.Sprintf(
			"Your reissue request for the book %q has successfully been granted.\nYour new due date is %s.",
			book.Title, s.stamp(due),
		))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ReportDamaged records a damage/loss incident against the user's open loan.
//
// Business Rules:
//
//	GIVEN: an open, unreported loan
//	WHEN: the user reports the book damaged or lost
//	THEN: a flat fine is applied and a history row is written
//	AND: reaching the incident threshold suspends an active subscription
//	AND: the suspension state is re-evaluated in the same transaction
func (s *service) ReportDamaged(ctx context.Context, userID, bookID uuid.UUID) (*ReportOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.report_damaged", spanAttrs(userID, bookID))
	defer span.End()

	out := &ReportOutcome{}
	err := s.db.InTx(ctx, "circulation.report_damaged", func(ctx context.Context, tx *store.Tx) error {
		b, err := s.openLoan(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		if b.IsDamagedOrLost {
			return ErrAlreadyReported
		}
		book, err := catalog.Get(ctx, tx, bookID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if err := s.transition(ctx, tx, b, EventDamageReported, stampEvent{At: now},
			`is_damaged_or_lost = TRUE, damaged_lost_at = ?, reissue_requested = FALSE`, now); err != nil {
			return err
		}
		b.IsDamagedOrLost, b.DamagedLostAt, b.ReissueRequested = true, &now, false
		out.Borrowing = b

		if _, err := store.Exec(ctx, tx, `
			INSERT INTO damaged_lost_history (id, borrowing_id, book_id, user_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.New(), b.ID, b.BookID, b.UserID, now); err != nil {
			return fmt.Errorf("insert damage history: %w", err)
		}
		if err := s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
			"The book %q has been reported as lost/damaged. A fine of %d BDT has been applied.",
			book.Title, policy.FineAmount,
		)); err != nil {
			return err
		}

		incidents, err := unarchivedIncidents(ctx, tx, userID)
		if err != nil {
			return err
		}
		if policy.SuspendOnReport(len(incidents)) {
			sub, err := subscription.LockByUser(ctx, tx, userID)
			switch {
			case errors.Is(err, subscription.ErrNotFound):
			case err != nil:
				return err
			default:
				out.Suspended = true
				if sub.IsActive {
					if err := s.suspend(ctx, tx, sub, len(incidents)); err != nil {
						return err
					}
				}
			}
		}

		_, err = s.reconcile(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.incidents.Add(ctx, 1)
	if out.Suspended {
		span.AddEvent("circulation.suspended")
		s.logger.InfoContext(ctx, "subscription suspended on incident report", "user_id", userID)
	}
	return out, nil
}

// PayFine marks the fine of the user's open incident for the book as paid.
func (s *service) PayFine(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.pay_fine", spanAttrs(userID, bookID))
	defer span.End()

	var b *Borrowing
	err := s.db.InTx(ctx, "circulation.pay_fine", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if b, err = s.openIncident(ctx, tx, userID, bookID); err != nil {
			return err
		}
		if b.FinePaid {
			return ErrFineAlreadyPaid
		}
		book, err := catalog.Get(ctx, tx, bookID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.transition(ctx, tx, b, EventFinePaid, stampEvent{At: now},
			`fine_paid = TRUE, fine_paid_at = ?`, now); err != nil {
			return err
		}
		b.FinePaid, b.FinePaidAt = true, &now
		if err := syncHistory(ctx, tx, b, false); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
			"We have successfully received the fine for the damage/loss of the book %q. Please wait for the approval.",
			book.Title,
		))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ApproveFine accepts a paid fine. The incident is archived by the next
// reconcile pass.
func (s *service) ApproveFine(ctx context.Context, borrowingID uuid.UUID) (*Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.approve_fine",
		trace.WithAttributes(attribute.String("borrowing.id", borrowingID.String())),
	)
	defer span.End()

	var b *Borrowing
	err := s.db.InTx(ctx, "circulation.approve_fine", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if b, err = s.byID(ctx, tx, borrowingID); err != nil {
			return err
		}
		switch {
		case !b.IsDamagedOrLost:
			return ErrNoIncident
		case b.ArchivedAt != nil:
			return ErrLoanClosed
		case !b.FinePaid:
			return ErrFineNotPaid
		case b.FinePaidApproved:
			return ErrFineAlreadyApproved
		}
		book, err := catalog.Get(ctx, tx, b.BookID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.transition(ctx, tx, b, EventFineApproved, stampEvent{At: now},
			`fine_paid_approved = TRUE`); err != nil {
			return err
		}
		b.FinePaidApproved = true
		if err := syncHistory(ctx, tx, b, false); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, b.UserID, fmt.Sprintf(
			"Your payment for the damage/loss of the book %q has been approved.", book.Title,
		))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.reconcile",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	var res *ReconcileResult
	err := s.db.InTx(ctx, "circulation.reconcile", func(ctx context.Context, tx *store.Tx) error {
		var err error
		res, err = s.reconcile(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("reconcile.archived", res.Archived),
		attribute.Bool("reconcile.changed", res.Changed),
	)
	return res, nil
}

func (s *service) reconcile(ctx context.Context, tx *store.Tx, userID uuid.UUID) (*ReconcileResult, error) {
	now := s.now().UTC()
	res := &ReconcileResult{}

	var approved []*Borrowing
	if err := store.Select(ctx, tx, &approved, `
		SELECT `+borrowingColumns+` FROM borrowings
		WHERE user_id = ? AND is_damaged_or_lost = TRUE AND fine_paid_approved = TRUE AND archived_at IS NULL
	`, userID); err != nil {
		return nil, fmt.Errorf("list approved incidents: %w", err)
	}
	for _, b := range approved {
		returned := now
		if b.ReturnedAt != nil {
			returned = *b.ReturnedAt
		}
		if err := s.transition(ctx, tx, b, EventIncidentArchived, stampEvent{At: now},
			`archived_at = ?, returned_at = ?`, now, returned); err != nil {
			return nil, err
		}
		if err := syncHistory(ctx, tx, b, true); err != nil {
			return nil, err
		}
		res.Archived++
	}

	open, err := unarchivedIncidents(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	res.OpenIncidents = len(open)

	sub, err := subscription.LockByUser(ctx, tx, userID)
	if errors.Is(err, subscription.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.HasSubscription = true

	incidents := make([]policy.Incident, len(open))
	for i, b := range open {
		incidents[i] = b.incident()
	}
	res.Active = policy.EvaluateSuspension(sub.IsActive, incidents, now)
	if res.Active == sub.IsActive {
		return res, nil
	}
	res.Changed = true

	if !res.Active {
		return res, s.suspend(ctx, tx, sub, len(open))
	}
	if err := subscription.SetActive(ctx, tx, sub.ID, true); err != nil {
		return nil, err
	}
	user, err := membership.Lookup(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.outbox.Enqueue(ctx, tx, mail.FineCleared(user.Email, user.Username, string(sub.Tier))); err != nil {
		return nil, err
	}
	return res, s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
		"Your subscription plan %s is active again.", sub.Tier,
	))
}

// suspend deactivates sub and tells the user why: the incident threshold,
// or an unpaid fine past its grace period.
func (s *service) suspend(ctx context.Context, tx *store.Tx, sub *subscription.Subscription, incidents int) error {
	if err := subscription.SetActive(ctx, tx, sub.ID, false); err != nil {
		return err
	}
	sub.IsActive = false
	user, err := membership.Lookup(ctx, tx, sub.UserID)
	if err != nil {
		return err
	}
	if policy.SuspendOnReport(incidents) {
		if err := s.outbox.Enqueue(ctx, tx, mail.IncidentSuspension(user.Email, user.Username)); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, sub.UserID,
			"Your subscription has been suspended due to multiple lost/damaged reports. Please contact the Boipoka admin as soon as possible.")
	}
	if err := s.outbox.Enqueue(ctx, tx, mail.UnpaidFineSuspension(user.Email, user.Username, string(sub.Tier))); err != nil {
		return err
	}
	return s.notifier.Notify(ctx, tx, sub.UserID, fmt.Sprintf(
		"Your subscription plan %s has been temporarily suspended due to unpaid fine.", sub.Tier,
	))
}

// ToggleUnread flips the reading-list mark. It is bookkeeping for the
// user, not a ledger transition, so the version is left alone.
func (s *service) ToggleUnread(ctx context.Context, userID, borrowingID uuid.UUID) (*Borrowing, error) {
	var b *Borrowing
	err := s.db.InTx(ctx, "circulation.toggle_unread", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if b, err = s.byID(ctx, tx, borrowingID); err != nil {
			return err
		}
		if b.UserID != userID {
			return ErrBorrowingNotFound
		}
		b.MarkedUnread = !b.MarkedUnread
		_, err = store.Exec(ctx, tx, `UPDATE borrowings SET marked_unread = ? WHERE id = ?`, b.MarkedUnread, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateDueDate moves the due date of an unreturned loan.
func (s *service) UpdateDueDate(ctx context.Context, borrowingID uuid.UUID, due time.Time) (*Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.update_due_date",
		trace.WithAttributes(attribute.String("borrowing.id", borrowingID.String())),
	)
	defer span.End()

	var b *Borrowing
	err := s.db.InTx(ctx, "circulation.update_due_date", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if b, err = s.byID(ctx, tx, borrowingID); err != nil {
			return err
		}
		if !b.Open() || b.ArchivedAt != nil {
			return ErrLoanClosed
		}
		due = due.UTC()
		if err := s.transition(ctx, tx, b, EventDueDateChanged, dueEvent{BorrowedOn: b.BorrowedOn, DueDate: due},
			`due_date = ?, due_reminded_at = NULL`, due); err != nil {
			return err
		}
		b.DueDate, b.DueRemindedAt = due, nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) Get(ctx context.Context, borrowingID uuid.UUID) (*Loan, error) {
	loan := &Loan{}
	err := store.Get(ctx, s.db, loan, loanSelect+` WHERE b.id = ?`, borrowingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBorrowingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// OpenLoan is the user's unreturned loan of the book, or ErrNoLoan.
func (s *service) OpenLoan(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error) {
	b, err := getBorrowing(ctx, s.db, `
		SELECT `+borrowingColumns+` FROM borrowings
		WHERE user_id = ? AND book_id = ? AND returned_at IS NULL AND archived_at IS NULL
		ORDER BY borrowed_on DESC
		LIMIT 1`, userID, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoLoan
	}
	if err != nil {
		return nil, fmt.Errorf("get open loan: %w", err)
	}
	return b, nil
}

func (s *service) listLoans(ctx context.Context, where string, args ...any) ([]*Loan, error) {
	var loans []*Loan
	err := store.Select(ctx, s.db, &loans, loanSelect+` WHERE `+where+` ORDER BY b.borrowed_on DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

func (s *service) OpenLoans(ctx context.Context, userID uuid.UUID) ([]*Loan, error) {
	return s.listLoans(ctx, `b.user_id = ? AND b.returned_at IS NULL`, userID)
}

// Loans lists every borrowing of the user, newest first.
func (s *service) Loans(ctx context.Context, userID uuid.UUID) ([]*Loan, error) {
	return s.listLoans(ctx, `b.user_id = ?`, userID)
}

// History is the user's reading history, optionally narrowed by a title
// search and a borrowed-on date range.
func (s *service) History(ctx context.Context, userID uuid.UUID, f HistoryFilter) ([]*Loan, error) {
	where, args := `b.user_id = ?`, []any{userID}
	if q := strings.TrimSpace(f.Search); q != "" {
		where += ` AND LOWER(k.title) LIKE ?`
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	loans, err := s.listLoans(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if f.From == nil || f.To == nil {
		return loans, nil
	}
	from, to := f.From.UTC(), f.To.UTC().Add(24*time.Hour)
	kept := loans[:0]
	for _, l := range loans {
		if !l.BorrowedOn.Before(from) && l.BorrowedOn.Before(to) {
			kept = append(kept, l)
		}
	}
	return kept, nil
}

// Timeline is the borrowing's journal stream.
func (s *service) Timeline(ctx context.Context, borrowingID uuid.UUID) ([]journal.Event, error) {
	if _, err := s.Get(ctx, borrowingID); err != nil {
		return nil, err
	}
	return s.events.Load(ctx, s.db, borrowingID)
}

func (s *service) Standing(ctx context.Context, userID uuid.UUID) (membership.Standing, error) {
	var st membership.Standing
	sub, err := subscription.GetByUser(ctx, s.db, userID)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
	case err != nil:
		return st, err
	default:
		st.HasSubscription, st.Active = true, sub.IsActive
	}
	if err := store.Get(ctx, s.db, &st.Incidents, `
		SELECT COUNT(*) FROM borrowings
		WHERE user_id = ? AND is_damaged_or_lost = TRUE AND archived_at IS NULL
	`, userID); err != nil {
		return st, fmt.Errorf("count incidents: %w", err)
	}
	return st, nil
}
