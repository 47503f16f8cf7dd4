// internal/membership/handler.go
package membership

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/web"
)

type sessionAccounts struct {
	service Service
}

// NewSessionAccounts lets the session middleware see deleted users and role
// changes.
func NewSessionAccounts(service Service) web.Accounts {
	return sessionAccounts{service: service}
}

func (a sessionAccounts) Resolve(ctx context.Context, userID uuid.UUID) (*web.Session, error) {
	user, err := a.service.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &web.Session{UserID: user.ID, Username: user.Username, Admin: user.IsAdmin}, nil
}

type Handler struct {
	service  Service
	sessions *web.Sessions
	render   *web.Renderer
}

func NewHandler(service Service, sessions *web.Sessions, render *web.Renderer) *Handler {
	return &Handler{service: service, sessions: sessions, render: render}
}

// Routes mounts the account pages.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/login", h.handleLoginForm)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/register", h.handleRegisterForm)
	r.Post("/register", h.handleRegister)
}

// AdminRoutes mounts user management under an admin-only router. The user
// detail page lives with circulation since it lists loans.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/users", h.handleList)
	r.Get("/users/{id}/edit", h.handleEdit)
	r.Post("/users/{id}", h.handleUpdate)
	r.Post("/users/{id}/delete", h.handleDelete)
}

type loginPage struct {
	Next string
}

type field struct {
	Name  string
	Label string
	Type  string
}

type registerPage struct {
	Fields []field
}

var registerFields = registerPage{Fields: []field{
	{"username", "Username", "text"},
	{"email", "Email", "email"},
	{"first_name", "First name", "text"},
	{"last_name", "Last name", "text"},
	{"password1", "Password", "password"},
	{"password2", "Password confirmation", "password"},
}}

type usersPage struct {
	Users []*User
}

type userFormPage struct {
	User *User
}

func (h *Handler) start(w http.ResponseWriter, u *User) error {
	return h.sessions.Issue(w, web.Session{UserID: u.ID, Username: u.Username, Admin: u.IsAdmin})
}

func (h *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if web.CurrentSession(r.Context()) != nil {
		http.Redirect(w, r, DestinationCatalog, http.StatusFound)
		return
	}
	h.render.Render(w, r, http.StatusOK, "login.html", web.Page{
		Title: "Log in",
		Data:  loginPage{Next: r.URL.Query().Get("next")},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Fail(w, r, err, "/login")
		return
	}
	next := r.PostForm.Get("next")
	page := web.Page{Title: "Log in", Data: loginPage{Next: next}}

	res, err := h.service.Authenticate(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		h.render.Form(w, r, "login.html", page, err)
		return
	}
	if err := h.start(w, res.User); err != nil {
		h.render.Fail(w, r, err, "/login")
		return
	}
	web.Redirect(w, r, web.SafeNext(next, res.Destination), "", "")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	web.Redirect(w, r, "/", web.FlashSuccess, "You have been logged out.")
}

func (h *Handler) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "register.html", web.Page{Title: "Register", Data: registerFields})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	page := web.Page{Title: "Register", Data: registerFields}
	var reg Registration
	if err := web.Decode(r, &reg); err != nil {
		h.render.Form(w, r, "register.html", page, err)
		return
	}
	user, err := h.service.Register(r.Context(), reg)
	if err != nil {
		h.render.Form(w, r, "register.html", page, err)
		return
	}
	if err := h.start(w, user); err != nil {
		h.render.Fail(w, r, err, "/login")
		return
	}
	web.Redirect(w, r, DestinationSubscribe, web.FlashSuccess, "Welcome to Boipoka! Choose a subscription plan to start borrowing.")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListMembers(r.Context())
	if err != nil {
		h.render.Fail(w, r, err, "/")
		return
	}
	h.render.Render(w, r, http.StatusOK, "admin_users.html", web.Page{Title: "Users", Data: usersPage{Users: users}})
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	h.render.Render(w, r, http.StatusOK, "admin_user_form.html", web.Page{
		Title: "Edit " + user.Username,
		Form:  url.Values{"username": {user.Username}, "email": {user.Email}},
		Data:  userFormPage{User: user},
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	page := web.Page{Title: "Edit " + user.Username, Data: userFormPage{User: user}}

	var p Profile
	if err := web.Decode(r, &p); err != nil {
		h.render.Form(w, r, "admin_user_form.html", page, err)
		return
	}
	if _, err := h.service.UpdateUser(r.Context(), id, p); err != nil {
		h.render.Form(w, r, "admin_user_form.html", page, err)
		return
	}
	web.Redirect(w, r, "/admin/users/"+id.String(), web.FlashSuccess, "User updated successfully.")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	web.Redirect(w, r, "/admin/users", web.FlashSuccess, "User deleted successfully.")
}
