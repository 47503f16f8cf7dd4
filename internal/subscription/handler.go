// internal/subscription/handler.go
package subscription

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/web"
)

type Handler struct {
	service Service
	render  *web.Renderer
	loc     *time.Location
}

func NewHandler(service Service, render *web.Renderer, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{service: service, render: render, loc: loc}
}

// Routes mounts the member's own subscription pages.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/subscription", h.handleShow)
	r.Get("/subscription/new", h.handleNewForm)
	r.Post("/subscription/new", h.handleCreate)
	r.Get("/subscription/change", h.handleChangeForm)
	r.Post("/subscription/change", h.handleChange)
	r.Post("/subscription/renew", h.handleRenew)
}

// AdminRoutes mounts subscription management under an admin-only router.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/subscriptions/{id}/start", h.handleSetStart)
	r.Post("/subscriptions/{id}/end", h.handleSetEnd)
	r.Post("/subscriptions/{id}/reactivate", h.handleReactivate)
	r.Post("/users/{id}/subscription/delete", h.handleDelete)
}

type showPage struct {
	Subscription *Subscription
}

type plan struct {
	Tier     Tier
	MaxBooks int
}

type formPage struct {
	Action  string
	Current Tier
	Plans   []plan
}

func plans() []plan {
	out := make([]plan, len(Tiers))
	for i, t := range Tiers {
		out[i] = plan{Tier: t, MaxBooks: MaxBooksFor(t)}
	}
	return out
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	sub, err := h.service.Get(r.Context(), sess.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.render.Fail(w, r, err, "/")
		return
	}
	h.render.Render(w, r, http.StatusOK, "subscription.html", web.Page{
		Title: "Subscription",
		Data:  showPage{Subscription: sub},
	})
}

func (h *Handler) handleNewForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "subscription_form.html", web.Page{
		Title: "Choose a plan",
		Data:  formPage{Action: "/subscription/new", Current: Basic, Plans: plans()},
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	page := web.Page{Title: "Choose a plan", Data: formPage{Action: "/subscription/new", Plans: plans()}}

	if err := r.ParseForm(); err != nil {
		h.render.Fail(w, r, err, "/subscription/new")
		return
	}
	tier, err := ParseTier(r.PostForm.Get("subscription_type"))
	if err != nil {
		h.render.Form(w, r, "subscription_form.html", page, err)
		return
	}
	if _, err := h.service.Create(r.Context(), sess.UserID, tier); err != nil {
		if errors.Is(err, ErrExists) {
			h.render.Fail(w, r, err, "/subscription")
			return
		}
		h.render.Form(w, r, "subscription_form.html", page, err)
		return
	}
	web.Redirect(w, r, "/books", web.FlashSuccess, fmt.Sprintf("You are now subscribed to the %s plan.", tier))
}

func (h *Handler) handleChangeForm(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	sub, err := h.service.Get(r.Context(), sess.UserID)
	if errors.Is(err, ErrNotFound) {
		http.Redirect(w, r, "/subscription/new", http.StatusFound)
		return
	}
	if err != nil {
		h.render.Fail(w, r, err, "/subscription")
		return
	}
	h.render.Render(w, r, http.StatusOK, "subscription_form.html", web.Page{
		Title: "Change plan",
		Data:  formPage{Action: "/subscription/change", Current: sub.Tier, Plans: plans()},
	})
}

// A refused change is already recorded as a notification, so it only needs a
// redirect back to the subscription page.
func (h *Handler) handleChange(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	if err := r.ParseForm(); err != nil {
		h.render.Fail(w, r, err, "/subscription/change")
		return
	}
	tier, err := ParseTier(r.PostForm.Get("subscription_type"))
	if err != nil {
		h.render.Fail(w, r, err, "/subscription/change")
		return
	}
	if _, err := h.service.ChangeTier(r.Context(), sess.UserID, tier); err != nil {
		h.render.Fail(w, r, err, "/subscription")
		return
	}
	web.Redirect(w, r, "/subscription", web.FlashSuccess, fmt.Sprintf("Your plan is now %s.", tier))
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	sess := web.CurrentSession(r.Context())
	sub, err := h.service.Renew(r.Context(), sess.UserID)
	if err != nil {
		h.render.Fail(w, r, err, "/subscription")
		return
	}
	web.Redirect(w, r, "/subscription", web.FlashSuccess,
		"Your subscription now runs until "+sub.EndsAt.In(h.loc).Format("Jan. 02, 2006")+".")
}

func back(r *http.Request) string {
	return web.SafeNext(r.PostFormValue("next"), "/admin/users")
}

func (h *Handler) dateField(r *http.Request, name string) (time.Time, error) {
	t, err := web.ParseDate(r.PostFormValue(name), h.loc)
	if err != nil {
		return time.Time{}, apperr.Invalid(map[string]string{name: "Enter a valid date/time."})
	}
	return t, nil
}

func (h *Handler) handleSetStart(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, back(r))
		return
	}
	start, err := h.dateField(r, "start-date")
	if err == nil {
		err = h.service.SetStart(r.Context(), id, start)
	}
	if err != nil {
		h.render.Fail(w, r, err, back(r))
		return
	}
	web.Redirect(w, r, back(r), web.FlashSuccess, "Subscription start date updated.")
}

func (h *Handler) handleSetEnd(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err != nil {
		h.render.Fail(w, r, err, back(r))
		return
	}
	end, err := h.dateField(r, "expire-date")
	if err == nil {
		err = h.service.SetEnd(r.Context(), id, end)
	}
	if err != nil {
		h.render.Fail(w, r, err, back(r))
		return
	}
	web.Redirect(w, r, back(r), web.FlashSuccess, "Subscription end date updated.")
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamID(r, "id")
	if err == nil {
		err = h.service.Reactivate(r.Context(), id)
	}
	if err != nil {
		h.render.Fail(w, r, err, back(r))
		return
	}
	web.Redirect(w, r, back(r), web.FlashSuccess, "Subscription reactivated.")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := web.ParamID(r, "id")
	if err == nil {
		err = h.service.Delete(r.Context(), userID)
	}
	if err != nil {
		h.render.Fail(w, r, err, back(r))
		return
	}
	web.Redirect(w, r, back(r), web.FlashSuccess, "Subscription deleted.")
}
