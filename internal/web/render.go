package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

//go:embed templates/*.html
var templateFS embed.FS

// UnreadCounter backs the unread badge in the navigation bar.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
}

// Page is what every template receives. Handlers fill Title, Data and, on
// a failed form, Errors and Form; Render fills the rest.
type Page struct {
	Title   string
	Session *Session
	Unread  int
	Flashes []Flash
	Errors  map[string]string
	Form    url.Values
	Data    any
}

// Renderer executes the embedded page templates inside the shared layout.
type Renderer struct {
	pages  map[string]*template.Template
	unread UnreadCounter
	loc    *time.Location
	logger *slog.Logger
}

func NewRenderer(unread UnreadCounter, loc *time.Location, logger *slog.Logger) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	rd := &Renderer{pages: map[string]*template.Template{}, unread: unread, loc: loc, logger: logger}

	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		base := path.Base(name)
		if base == "layout.html" {
			continue
		}
		t, err := template.New(base).Funcs(rd.funcs()).ParseFS(templateFS, "templates/layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", base, err)
		}
		rd.pages[base] = t
	}
	return rd, nil
}

func (rd *Renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"stamp": func(v any) string {
			switch t := v.(type) {
			case time.Time:
				return t.In(rd.loc).Format("Jan. 02, 2006, 03:04 PM")
			case *time.Time:
				if t == nil {
					return ""
				}
				return t.In(rd.loc).Format("Jan. 02, 2006, 03:04 PM")
			}
			return ""
		},
		"date": func(t time.Time) string {
			return t.In(rd.loc).Format(DateLayout)
		},
		"datetime": func(t time.Time) string {
			return t.In(rd.loc).Format(DateTimeLayout)
		},
	}
}

// Render writes the named page with status. Rendering happens into a buffer
// so that a template failure still produces a clean 500.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, page Page) {
	t, ok := rd.pages[name]
	if !ok {
		rd.logger.ErrorContext(r.Context(), "unknown template", "template", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	page.Session = CurrentSession(r.Context())
	if page.Session != nil && rd.unread != nil {
		n, err := rd.unread.UnreadCount(r.Context(), page.Session.UserID)
		if err != nil {
			rd.logger.WarnContext(r.Context(), "unread count", "error", err)
		}
		page.Unread = n
	}
	page.Flashes = PopFlashes(w, r)

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", page); err != nil {
		rd.logger.ErrorContext(r.Context(), "render template", "template", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// ErrorData feeds error.html.
type ErrorData struct {
	Status  int
	Message string
}

// Error renders the error page.
func (rd *Renderer) Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	rd.Render(w, r, status, "error.html", Page{
		Title: http.StatusText(status),
		Data:  ErrorData{Status: status, Message: message},
	})
}

// Fail maps a service error onto a response. Not-found and forbidden render
// the error page; policy violations and stray validation errors become a
// flash and a redirect to back; anything else is logged and rendered as 500.
func (rd *Renderer) Fail(w http.ResponseWriter, r *http.Request, err error, back string) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindForbidden:
		rd.Error(w, r, apperr.HTTPStatus(err), apperr.Message(err))
	case apperr.KindPolicyViolation:
		Redirect(w, r, back, FlashError, apperr.Message(err))
	case apperr.KindValidation:
		Redirect(w, r, back, FlashError, fieldSummary(apperr.FieldErrors(err)))
	default:
		rd.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		rd.Error(w, r, http.StatusInternalServerError, apperr.Message(err))
	}
}

// Form re-renders a form page with its field errors and 400 when err is a
// validation error, and otherwise falls back to Fail.
func (rd *Renderer) Form(w http.ResponseWriter, r *http.Request, name string, page Page, err error) {
	if apperr.KindOf(err) != apperr.KindValidation {
		rd.Fail(w, r, err, r.URL.Path)
		return
	}
	page.Errors = apperr.FieldErrors(err)
	page.Form = r.PostForm
	rd.Render(w, r, http.StatusBadRequest, name, page)
}

func fieldSummary(fields map[string]string) string {
	if len(fields) == 0 {
		return "Invalid input."
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, len(keys))
	for i, k := range keys {
		msgs[i] = fields[k]
	}
	return strings.Join(msgs, " ")
}

// Redirect answers a mutation with 302, queueing a flash when message is set.
func Redirect(w http.ResponseWriter, r *http.Request, to, level, message string) {
	if message != "" {
		AddFlash(w, r, level, message)
	}
	http.Redirect(w, r, to, http.StatusFound)
}
