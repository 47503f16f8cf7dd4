// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/journal"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/membership"
)

// Service defines the interface for the borrowing ledger.
type Service interface {
	Borrow(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error)
	Return(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error)
	RequestReissue(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error)
	GrantReissue(ctx context.Context, borrowingID uuid.UUID) (*Borrowing, error)
	ReportDamaged(ctx context.Context, userID, bookID uuid.UUID) (*ReportOutcome, error)
	PayFine(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error)
	ApproveFine(ctx context.Context, borrowingID uuid.UUID) (*Borrowing, error)

	// Reconcile archives approved incidents and re-evaluates the user's
	// suspension. Running it twice in a row changes nothing the second time.
	Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error)

	ToggleUnread(ctx context.Context, userID, borrowingID uuid.UUID) (*Borrowing, error)
	UpdateDueDate(ctx context.Context, borrowingID uuid.UUID, due time.Time) (*Borrowing, error)

	Get(ctx context.Context, borrowingID uuid.UUID) (*Loan, error)
	OpenLoan(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error)
	OpenLoans(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
	Loans(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
	History(ctx context.Context, userID uuid.UUID, filter HistoryFilter) ([]*Loan, error)
	Timeline(ctx context.Context, borrowingID uuid.UUID) ([]journal.Event, error)

	// Standing feeds the login gate.
	Standing(ctx context.Context, userID uuid.UUID) (membership.Standing, error)

	Reminders
}

// Reminders are the admin-triggered mailings for one user plus the due-soon
// sweep. Each returns how many messages it queued.
type Reminders interface {
	SendOverdueReminders(ctx context.Context, userID uuid.UUID) (int, error)
	SendPaymentNeeded(ctx context.Context, userID uuid.UUID) (int, error)
	SendPaymentApproved(ctx context.Context, userID uuid.UUID) (int, error)
	SendBorrowedSummary(ctx context.Context, userID uuid.UUID) (int, error)
	SendReturnedSummary(ctx context.Context, userID uuid.UUID) (int, error)
	NotifyDueSoon(ctx context.Context) (int, error)
}
