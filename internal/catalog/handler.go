// internal/catalog/handler.go
package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/web"
)

// Holding is a member's open loan of a book, as the book page shows it.
type Holding struct {
	BorrowingID      uuid.UUID
	DueDate          time.Time
	ReissueRequested bool
	Reported         bool
	FinePaid         bool
	FineApproved     bool
}

// Patron is what the catalog pages need to know about the member browsing
// them.
type Patron interface {
	// Refresh re-evaluates the member's suspension before the catalog is
	// listed and reports whether the member has a subscription at all.
	Refresh(ctx context.Context, userID uuid.UUID) (subscribed bool, err error)
	// Holding returns the member's open loan of bookID, or nil.
	Holding(ctx context.Context, userID, bookID uuid.UUID) (*Holding, error)
}

// SubscribePath is where a member without a subscription is sent.
const SubscribePath = "/subscription/new"

type Handler struct {
	service Service
	patron  Patron
	render  *web.Renderer
}

func NewHandler(service Service, patron Patron, render *web.Renderer) *Handler {
	return &Handler{service: service, patron: patron, render: render}
}

// Routes mounts the member-facing pages.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.handleList)
	r.Get("/books/{id}", h.handleDetail)
}

// AdminRoutes mounts book management under an admin-only router.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/books/new", h.handleNew)
	r.Post("/books", h.handleCreate)
	r.Get("/books/{id}/edit", h.handleEdit)
	r.Post("/books/{id}", h.handleUpdate)
	r.Post("/books/{id}/delete", h.handleDelete)
}

type listPage struct {
	Query string
	Books []*Book
}

type detailPage struct {
	Book    *Book
	Holding *Holding
}

type formPage struct {
	Action string
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	if sess != nil && !sess.Admin && h.patron != nil {
		subscribed, err := h.patron.Refresh(r.Context(), sess.UserID)
		if err != nil {
			h.render.Fail(w, r, err, "/")
			return
		}
		if !subscribed {
			web.Redirect(w, r, SubscribePath, web.FlashWarning, "Choose a subscription plan to start borrowing.")
			return
		}
	}

	query := r.URL.Query().Get("q")
	books, err := h.service.Search(r.Context(), query)
	if err != nil {
		h.render.Fail(w, r, err, "/")
		return
	}
	h.render.Render(w, r, http.StatusOK, "books.html", web.Page{
		Title: "Books",
		Data:  listPage{Query: query, Books: books},
	})
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}

	page := detailPage{Book: book}
	if sess := web.CurrentSession(r.Context()); sess != nil && !sess.Admin && h.patron != nil {
		if page.Holding, err = h.patron.Holding(r.Context(), sess.UserID, id); err != nil {
			h.render.Fail(w, r, err, "/books")
			return
		}
	}
	h.render.Render(w, r, http.StatusOK, "book.html", web.Page{Title: book.Title, Data: page})
}

func bookForm(b *Book) url.Values {
	return url.Values{
		"title":        {b.Title},
		"author":       {b.Author},
		"description":  {b.Description},
		"total_copies": {strconv.Itoa(b.TotalCopies)},
		"is_available": {strconv.FormatBool(b.IsAvailable)},
	}
}

func (h *Handler) handleNew(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "book_form.html", web.Page{
		Title: "Add a book",
		Form:  bookForm(&Book{TotalCopies: 1, IsAvailable: true}),
		Data:  formPage{Action: "/admin/books"},
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	page := web.Page{Title: "Add a book", Data: formPage{Action: "/admin/books"}}
	var in BookInput
	if err := web.Decode(r, &in); err != nil {
		h.render.Form(w, r, "book_form.html", page, err)
		return
	}
	book, err := h.service.AddBook(r.Context(), in)
	if err != nil {
		h.render.Form(w, r, "book_form.html", page, err)
		return
	}
	web.Redirect(w, r, "/books/"+book.ID.String(), web.FlashSuccess, "Book added successfully.")
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	h.render.Render(w, r, http.StatusOK, "book_form.html", web.Page{
		Title: "Edit " + book.Title,
		Form:  bookForm(book),
		Data:  formPage{Action: "/admin/books/" + id.String()},
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	page := web.Page{Title: "Edit book", Data: formPage{Action: "/admin/books/" + id.String()}}
	var in BookInput
	if err := web.Decode(r, &in); err != nil {
		h.render.Form(w, r, "book_form.html", page, err)
		return
	}
	if _, err := h.service.UpdateBook(r.Context(), id, in); err != nil {
		h.render.Form(w, r, "book_form.html", page, err)
		return
	}
	web.Redirect(w, r, "/books/"+id.String(), web.FlashSuccess, "Book updated successfully.")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/books")
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		h.render.Fail(w, r, err, "/books/"+id.String())
		return
	}
	web.Redirect(w, r, "/books", web.FlashSuccess, "Book deleted successfully.")
}
