package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/membership"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/web"
)

// Members lists the broadcast recipients offered to admins.
type Members interface {
	ListMembers(ctx context.Context) ([]*membership.User, error)
}

type Handler struct {
	service Service
	hub     *Hub
	members Members
	render  *web.Renderer
}

func NewHandler(service Service, hub *Hub, members Members, render *web.Renderer) *Handler {
	return &Handler{service: service, hub: hub, members: members, render: render}
}

// Routes mounts the member's notification pages and the live feed.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/notifications", h.handleList)
	r.Post("/notifications/{id}/read", h.handleRead)
	r.Post("/notifications/{id}/delete", h.handleDelete)
	r.Get("/ws/notifications", h.handleStream)
}

// AdminRoutes mounts the broadcast form under an admin-only router.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/broadcast", h.handleBroadcastForm)
	r.Post("/broadcast", h.handleBroadcast)
}

type listPage struct {
	Notifications []*Notification
}

type broadcastPage struct {
	Users []*membership.User
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	list, err := h.service.List(r.Context(), sess.UserID)
	if err != nil {
		h.render.Fail(w, r, err, "/")
		return
	}
	h.render.Render(w, r, http.StatusOK, "notifications.html", web.Page{
		Title: "Notifications",
		Data:  listPage{Notifications: list},
	})
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	id, err := web.ParamID(r, "id")
	if err == nil {
		err = h.service.MarkRead(r.Context(), sess.UserID, id)
	}
	if err != nil {
		h.render.Fail(w, r, err, "/notifications")
		return
	}
	web.Redirect(w, r, "/notifications", "", "")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	id, err := web.ParamID(r, "id")
	if err == nil {
		err = h.service.Delete(r.Context(), sess.UserID, id)
	}
	if err != nil {
		h.render.Fail(w, r, err, "/notifications")
		return
	}
	web.Redirect(w, r, "/notifications", web.FlashSuccess, "Notification deleted.")
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	h.hub.Serve(w, r, web.CurrentSession(r.Context()).UserID)
}

func (h *Handler) broadcastPage(r *http.Request) (web.Page, error) {
	users, err := h.members.ListMembers(r.Context())
	if err != nil {
		return web.Page{}, err
	}
	return web.Page{Title: "Send a notification", Data: broadcastPage{Users: users}}, nil
}

func (h *Handler) handleBroadcastForm(w http.ResponseWriter, r *http.Request) {
	page, err := h.broadcastPage(r)
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	h.render.Render(w, r, http.StatusOK, "admin_broadcast.html", page)
}

func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	page, err := h.broadcastPage(r)
	if err != nil {
		h.render.Fail(w, r, err, "/admin/users")
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render.Fail(w, r, err, "/admin/broadcast")
		return
	}

	var target *uuid.UUID
	if raw := strings.TrimSpace(r.PostForm.Get("user")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.render.Form(w, r, "admin_broadcast.html", page, apperr.Invalid(map[string]string{"user": "Select a valid recipient."}))
			return
		}
		target = &id
	}

	n, err := h.service.Broadcast(r.Context(), target, strings.TrimSpace(r.PostForm.Get("message")))
	if err != nil {
		h.render.Form(w, r, "admin_broadcast.html", page, err)
		return
	}
	web.Redirect(w, r, "/admin/broadcast", web.FlashSuccess, fmt.Sprintf("Notification sent to %d user(s).", n))
}
