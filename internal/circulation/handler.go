// internal/circulation/handler.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/catalog"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/journal"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/membership"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/subscription"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/web"
)

type Handler struct {
	service       Service
	members       membership.Service
	subscriptions subscription.Service
	sessions      *web.Sessions
	render        *web.Renderer
	loc           *time.Location
}

func NewHandler(service Service, members membership.Service, subscriptions subscription.Service, sessions *web.Sessions, render *web.Renderer, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		service:       service,
		members:       members,
		subscriptions: subscriptions,
		sessions:      sessions,
		render:        render,
		loc:           loc,
	}
}

// Routes mounts the member's loan actions and reading history.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books/{id}/borrow", h.handleBorrow)
	r.Post("/books/{id}/return", h.handleReturn)
	r.Post("/books/{id}/reissue", h.handleReissue)
	r.Post("/books/{id}/report", h.handleReport)
	r.Post("/books/{id}/pay-fine", h.handlePayFine)
	r.Get("/history", h.handleHistory)
	r.Post("/history/{id}/toggle-unread", h.handleToggleUnread)
}

// AdminRoutes mounts loan administration under an admin-only router.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/users/{id}", h.handleUser)
	r.Post("/users/{id}/reminders/{kind}", h.handleReminder)
	r.Get("/borrowings/{id}", h.handleBorrowing)
	r.Post("/borrowings/{id}/due-date", h.handleDueDate)
	r.Post("/borrowings/{id}/approve-fine", h.handleApproveFine)
	r.Post("/borrowings/{id}/grant-reissue", h.handleGrantReissue)
}

type historyPage struct {
	Search string
	From   string
	To     string
	Loans  []*Loan
}

type reminder struct {
	Kind  string
	Label string
	send  func(Reminders, context.Context, uuid.UUID) (int, error)
}

var reminders = []reminder{
	{"overdue", "Overdue reminders", Reminders.SendOverdueReminders},
	{"payment-needed", "Fine payment needed", Reminders.SendPaymentNeeded},
	{"payment-approved", "Fine payment approved", Reminders.SendPaymentApproved},
	{"borrowed", "Borrowed books summary", Reminders.SendBorrowedSummary},
	{"returned", "Returned books summary", Reminders.SendReturnedSummary},
}

type userPage struct {
	User         *membership.User
	Subscription *subscription.Subscription
	Standing     membership.Standing
	Loans        []*Loan
	Reminders    []reminder
}

type borrowingPage struct {
	Loan   *Loan
	Events []journal.Event
}

// bookAction runs a member action on the book in the URL and redirects back
// to the book page.
func (h *Handler) bookAction(w http.ResponseWriter, r *http.Request, act func(ctx context.Context, userID, bookID uuid.UUID) (string, error)) {
	bookID, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	back := "/books/" + bookID.String()
	msg, err := act(r.Context(), web.CurrentSession(r.Context()).UserID, bookID)
	if err != nil {
		h.render.Fail(w, r, err, back)
		return
	}
	web.Redirect(w, r, back, web.FlashSuccess, msg)
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	h.bookAction(w, r, func(ctx context.Context, userID, bookID uuid.UUID) (string, error) {
		b, err := h.service.Borrow(ctx, userID, bookID)
		if err != nil {
			return "", err
		}
		return "Book borrowed. It is due back on " + b.DueDate.In(h.loc).Format("Jan. 02, 2006") + ".", nil
	})
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	h.bookAction(w, r, func(ctx context.Context, userID, bookID uuid.UUID) (string, error) {
		_, err := h.service.Return(ctx, userID, bookID)
		return "Book returned. Thank you!", err
	})
}

func (h *Handler) handleReissue(w http.ResponseWriter, r *http.Request) {
	h.bookAction(w, r, func(ctx context.Context, userID, bookID uuid.UUID) (string, error) {
		_, err := h.service.RequestReissue(ctx, userID, bookID)
		return "Your reissue request has been sent to the Admin.", err
	})
}

func (h *Handler) handlePayFine(w http.ResponseWriter, r *http.Request) {
	h.bookAction(w, r, func(ctx context.Context, userID, bookID uuid.UUID) (string, error) {
		_, err := h.service.PayFine(ctx, userID, bookID)
		return "Your fine payment has been recorded and is awaiting approval.", err
	})
}

// A report that crosses the incident threshold ends the session.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	bookID, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	back := "/books/" + bookID.String()
	out, err := h.service.ReportDamaged(r.Context(), web.CurrentSession(r.Context()).UserID, bookID)
	if err != nil {
		h.render.Fail(w, r, err, back)
		return
	}
	if out.Suspended {
		h.sessions.Clear(w)
		web.Redirect(w, r, "/login", web.FlashError, membership.ErrSuspended.Msg)
		return
	}
	web.Redirect(w, r, back, web.FlashWarning, "The book has been reported as lost/damaged. A fine of 500 BDT is due.")
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := historyPage{Search: q.Get("q"), From: q.Get("from"), To: q.Get("to")}
	filter := HistoryFilter{Search: page.Search}
	if page.From != "" && page.To != "" {
		from, errFrom := web.ParseDate(page.From, h.loc)
		to, errTo := web.ParseDate(page.To, h.loc)
		if errFrom == nil && errTo == nil {
			filter.From, filter.To = &from, &to
		}
	}

	loans, err := h.service.History(r.Context(), web.CurrentSession(r.Context()).UserID, filter)
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	page.Loans = loans
	h.render.Render(w, r, http.StatusOK, "history.html", web.Page{Title: "Reading history", Data: page})
}

func (h *Handler) handleToggleUnread(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err == nil {
		_, err = h.service.ToggleUnread(r.Context(), web.CurrentSession(r.Context()).UserID, id)
	}
	if err != nil {
		h.render.Fail(w, r, err, "/history")
		return
	}
	web.Redirect(w, r, "/history", "", "")
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	ctx := r.Context()
	page := userPage{Reminders: reminders}
	if page.User, err = h.members.GetUser(ctx, id); err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	page.Subscription, err = h.subscriptions.Get(ctx, id)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	if page.Standing, err = h.service.Standing(ctx, id); err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	if page.Loans, err = h.service.Loans(ctx, id); err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	h.render.Render(w, r, http.StatusOK, "admin_user.html", web.Page{Title: page.User.Username, Data: page})
}

func (h *Handler) handleReminder(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	back := "/admin/users/" + id.String()
	kind := chi.URLParam(r, "kind")
	for _, rem := range reminders {
		if rem.Kind != kind {
			continue
		}
		n, err := rem.send(h.service, r.Context(), id)
		if err != nil {
			h.render.Fail(w, r, err, back)
			return
		}
		if n == 0 {
			web.Redirect(w, r, back, web.FlashWarning, "Nothing to send.")
			return
		}
		web.Redirect(w, r, back, web.FlashSuccess, fmt.Sprintf("%s: %d email(s) queued.", rem.Label, n))
		return
	}
	h.render.Error(w, r, http.StatusNotFound, "Unknown reminder.")
}

func (h *Handler) handleBorrowing(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	loan, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	events, err := h.service.Timeline(r.Context(), id)
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	h.render.Render(w, r, http.StatusOK, "admin_borrowing.html", web.Page{
		Title: loan.BookTitle,
		Data:  borrowingPage{Loan: loan, Events: events},
	})
}

// borrowingAction runs an admin action on the borrowing in the URL and
// redirects to the form's next field.
func (h *Handler) borrowingAction(w http.ResponseWriter, r *http.Request, act func(ctx context.Context, id uuid.UUID) (string, error)) {
	back := web.SafeNext(r.PostFormValue("next"), "/admin/users")
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, back)
		return
	}
	msg, err := act(r.Context(), id)
	if err != nil {
		h.render.Fail(w, r, err, back)
		return
	}
	web.Redirect(w, r, back, web.FlashSuccess, msg)
}

func (h *Handler) handleDueDate(w http.ResponseWriter, r *http.Request) {
	h.borrowingAction(w, r, func(ctx context.Context, id uuid.UUID) (string, error) {
		due, err := web.ParseDate(r.PostFormValue("due_date"), h.loc)
		if err != nil {
			return "", apperr.Invalid(map[string]string{"due_date": "Enter a valid date/time."})
		}
		_, err = h.service.UpdateDueDate(ctx, id, due)
		return "Due date updated.", err
	})
}

func (h *Handler) handleApproveFine(w http.ResponseWriter, r *http.Request) {
	h.borrowingAction(w, r, func(ctx context.Context, id uuid.UUID) (string, error) {
		_, err := h.service.ApproveFine(ctx, id)
		return "Fine payment approved.", err
	})
}

func (h *Handler) handleGrantReissue(w http.ResponseWriter, r *http.Request) {
	h.borrowingAction(w, r, func(ctx context.Context, id uuid.UUID) (string, error) {
		_, err := h.service.GrantReissue(ctx, id)
		return "Reissue granted.", err
	})
}

// patron adapts the ledger to the catalog pages.
type patron struct {
	service Service
}

// NewPatron exposes a member's loans and standing to the catalog handler.
func NewPatron(service Service) catalog.Patron {
	return patron{service: service}
}

func (p patron) Refresh(ctx context.Context, userID uuid.UUID) (bool, error) {
	res, err := p.service.Reconcile(ctx, userID)
	if err != nil {
		return false, err
	}
	return res.HasSubscription, nil
}

func (p patron) Holding(ctx context.Context, userID, bookID uuid.UUID) (*catalog.Holding, error) {
	b, err := p.service.OpenLoan(ctx, userID, bookID)
	if errors.Is(err, ErrNoLoan) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &catalog.Holding{
		BorrowingID:      b.ID,
		DueDate:          b.DueDate,
		ReissueRequested: b.ReissueRequested,
		Reported:         b.IsDamagedOrLost,
		FinePaid:         b.FinePaid,
		FineApproved:     b.FinePaidApproved,
	}, nil
}
