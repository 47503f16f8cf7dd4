// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/policy"
)

// Borrowing is one loan of one book by one user. Version mirrors the
// borrowing's journal stream.
type Borrowing struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	BookID           uuid.UUID     `json:"book_id" db:"book_id"`
	SubscriptionID   uuid.NullUUID `json:"subscription_id" db:"subscription_id"`
	UserID           uuid.UUID     `json:"user_id" db:"user_id"`
	BorrowedOn       time.Time     `json:"borrowed_on" db:"borrowed_on"`
	DueDate          time.Time     `json:"due_date" db:"due_date"`
	ReturnedAt       *time.Time    `json:"returned_at,omitempty" db:"returned_at"`
	ReissueRequested bool          `json:"reissue_requested" db:"reissue_requested"`
	MarkedUnread     bool          `json:"marked_unread" db:"marked_unread"`
	IsDamagedOrLost  bool          `json:"is_damaged_or_lost" db:"is_damaged_or_lost"`
	DamagedLostAt    *time.Time    `json:"damaged_lost_at,omitempty" db:"damaged_lost_at"`
	FinePaid         bool          `json:"fine_paid" db:"fine_paid"`
	FinePaidApproved bool          `json:"fine_paid_approved" db:"fine_paid_approved"`
	FinePaidAt       *time.Time    `json:"fine_paid_at,omitempty" db:"fine_paid_at"`
	ArchivedAt       *time.Time    `json:"archived_at,omitempty" db:"archived_at"`
	DueRemindedAt    *time.Time    `json:"-" db:"due_reminded_at"`
	Version          int           `json:"version" db:"version"`
}

// Loan is a borrowing with its book title, as listed to users and admins.
type Loan struct {
	Borrowing
	BookTitle string `json:"book_title" db:"book_title"`
}

// State is where a borrowing sits in its lifecycle.
type State string

const (
	StateActive       State = "active"
	StateReturned     State = "returned"
	StateReported     State = "reported"
	StateFinePaid     State = "fine_paid"
	StateFineApproved State = "fine_approved"
	StateClosed       State = "closed"
)

func (b *Borrowing) State() State {
	switch {
	case b.ArchivedAt != nil:
		return StateClosed
	case b.IsDamagedOrLost && b.FinePaidApproved:
		return StateFineApproved
	case b.IsDamagedOrLost && b.FinePaid:
		return StateFinePaid
	case b.IsDamagedOrLost:
		return StateReported
	case b.ReturnedAt != nil:
		return StateReturned
	default:
		return StateActive
	}
}

// Open reports whether the loan still counts against the user's quota.
func (b *Borrowing) Open() bool {
	return b.ReturnedAt == nil
}

// Overdue reports whether an open loan is past its due date.
func (b *Borrowing) Overdue(now time.Time) bool {
	return b.Open() && now.After(b.DueDate)
}

// DueSoon reports whether an open loan falls due within a day.
func (b *Borrowing) DueSoon(now time.Time) bool {
	return b.Open() && policy.DueSoon(b.DueDate, now)
}

func (b *Borrowing) incident() policy.Incident {
	inc := policy.Incident{FinePaidAt: b.FinePaidAt}
	if b.DamagedLostAt != nil {
		inc.ReportedAt = *b.DamagedLostAt
	}
	return inc
}

// HistoryFilter narrows a reading history. The date range applies only when
// both ends are set; To includes the whole of its day.
type HistoryFilter struct {
	Search string
	From   *time.Time
	To     *time.Time
}

// ReportOutcome is the result of a damage/loss report. Suspended means the
// report pushed the account over the incident threshold and the session
// should end.
type ReportOutcome struct {
	Borrowing *Borrowing
	Suspended bool
}

// ReconcileResult describes one suspension re-evaluation.
type ReconcileResult struct {
	Archived        int
	OpenIncidents   int
	HasSubscription bool
	Active          bool
	Changed         bool
}

// Journal event types recorded on a borrowing's stream.
const (
	aggregateType = "borrowing"

	EventBorrowed         = "BookBorrowed"
	EventReturned         = "BookReturned"
	EventReissueRequested = "ReissueRequested"
	EventReissueGranted   = "ReissueGranted"
	EventDamageReported   = "DamageReported"
	EventFinePaid         = "FinePaid"
	EventFineApproved     = "FineApproved"
	EventIncidentArchived = "IncidentArchived"
	EventDueDateChanged   = "DueDateChanged"
)

type borrowedEvent struct {
	BookID     uuid.UUID `json:"book_id"`
	UserID     uuid.UUID `json:"user_id"`
	BorrowedOn time.Time `json:"borrowed_on"`
	DueDate    time.Time `json:"due_date"`
}

type stampEvent struct {
	At time.Time `json:"at"`
}

type dueEvent struct {
	BorrowedOn time.Time `json:"borrowed_on"`
	DueDate    time.Time `json:"due_date"`
}

var (
	ErrLimitReached        = apperr.Policy("Sorry, you have reached the limit of borrowed books for your subscription")
	ErrSuspended           = apperr.Policy("Your subscription is suspended. Please pay your outstanding fines or contact the Admin.")
	ErrAlreadyBorrowed     = apperr.Policy("You have already borrowed this book.")
	ErrNoLoan              = apperr.NotFound("No borrowing record found for this book.")
	ErrBorrowingNotFound   = apperr.NotFound("Borrowing not found.")
	ErrReported            = apperr.Policy("This book has been reported as lost/damaged.")
	ErrAlreadyReported     = apperr.Policy("This book has already been reported as lost/damaged.")
	ErrNoIncident          = apperr.NotFound("No lost/damaged report found for this book.")
	ErrFineAlreadyPaid     = apperr.Policy("The fine for this book has already been paid.")
	ErrFineNotPaid         = apperr.Policy("The fine for this book has not been paid yet.")
	ErrFineAlreadyApproved = apperr.Policy("The fine for this book has already been approved.")
	ErrReissuePending      = apperr.Policy("A reissue request for this book is already pending.")
	ErrNoReissueRequest    = apperr.Policy("There is no pending reissue request for this borrowing.")
	ErrLoanClosed          = apperr.Policy("This borrowing is already closed.")
)
