package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

func cookiesFrom(rec *httptest.ResponseRecorder) []*http.Cookie {
	return rec.Result().Cookies()
}

func TestSessionRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	s := NewSessions("secret", time.Hour, false).WithClock(func() time.Time { return now })
	want := Session{UserID: uuid.New(), Username: "rafi", Admin: true}

	rec := httptest.NewRecorder()
	require.NoError(t, s.Issue(rec, want))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookiesFrom(rec) {
		req.AddCookie(c)
	}
	var got *Session
	s.Load(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CurrentSession(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestSessionRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	s := NewSessions("secret", time.Hour, false).WithClock(func() time.Time { return now })
	token, err := s.Token(Session{UserID: uuid.New(), Username: "rafi"})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := NewSessions("secret", time.Hour, false).WithClock(func() time.Time { return now.Add(2 * time.Hour) })
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})
	t.Run("other secret", func(t *testing.T) {
		_, err := NewSessions("other", time.Hour, false).Parse(token)
		assert.Error(t, err)
	})
	t.Run("unsigned", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": uuid.NewString(), "iss": "boipoka"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = s.Parse(unsigned)
		assert.Error(t, err)
	})
	t.Run("bad cookie is cleared", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "garbage"})
		rec := httptest.NewRecorder()
		var got *Session
		s.Load(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = CurrentSession(r.Context())
		})).ServeHTTP(rec, req)
		assert.Nil(t, got)
		require.Len(t, cookiesFrom(rec), 1)
		assert.Equal(t, -1, cookiesFrom(rec)[0].MaxAge)
	})
}

type accountsFunc func(context.Context, uuid.UUID) (*Session, error)

func (f accountsFunc) Resolve(ctx context.Context, id uuid.UUID) (*Session, error) { return f(ctx, id) }

func TestSessionChecksAccounts(t *testing.T) {
	issued := Session{UserID: uuid.New(), Username: "rafi", Admin: true}
	token, err := NewSessions("secret", time.Hour, false).Token(issued)
	require.NoError(t, err)

	load := func(accounts Accounts) (*httptest.ResponseRecorder, *Session) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
		rec := httptest.NewRecorder()
		var got *Session
		NewSessions("secret", time.Hour, false).WithAccounts(accounts).Load(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = CurrentSession(r.Context())
		})).ServeHTTP(rec, req)
		return rec, got
	}

	t.Run("role comes from the account", func(t *testing.T) {
		_, got := load(accountsFunc(func(_ context.Context, id uuid.UUID) (*Session, error) {
			return &Session{UserID: id, Username: "rafi"}, nil
		}))
		require.NotNil(t, got)
		assert.False(t, got.Admin)
	})
	t.Run("deleted user is signed out", func(t *testing.T) {
		rec, got := load(accountsFunc(func(context.Context, uuid.UUID) (*Session, error) {
			return nil, apperr.NotFound("User not found.")
		}))
		assert.Nil(t, got)
		require.Len(t, cookiesFrom(rec), 1)
		assert.Equal(t, -1, cookiesFrom(rec)[0].MaxAge)
	})
	t.Run("lookup failure", func(t *testing.T) {
		rec, got := load(accountsFunc(func(context.Context, uuid.UUID) (*Session, error) {
			return nil, errors.New("connection refused")
		}))
		assert.Nil(t, got)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Empty(t, cookiesFrom(rec))
	})
}

func TestFlashesSurviveOneRedirect(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/books/1/borrow", nil)
	AddFlash(rec, req, FlashSuccess, "Book borrowed.")

	next := httptest.NewRequest(http.MethodGet, "/books/1", nil)
	for _, c := range cookiesFrom(rec) {
		next.AddCookie(c)
	}

	out := httptest.NewRecorder()
	assert.Equal(t, []Flash{{Level: FlashSuccess, Message: "Book borrowed."}}, PopFlashes(out, next))
	require.Len(t, cookiesFrom(out), 1)
	assert.Equal(t, -1, cookiesFrom(out)[0].MaxAge)
}

type decoded struct {
	Title     string `form:"title"`
	Password  string `form:"password1"`
	Copies    int    `form:"total_copies"`
	Available bool   `form:"is_available"`
	Ignored   string
}

func postForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestDecode(t *testing.T) {
	var d decoded
	err := Decode(postForm(url.Values{
		"title":        {"  Gitanjali "},
		"password1":    {" secret "},
		"total_copies": {"3"},
		"is_available": {"true"},
		"Ignored":      {"x"},
	}), &d)
	require.NoError(t, err)
	assert.Equal(t, decoded{Title: "Gitanjali", Password: " secret ", Copies: 3, Available: true}, d)

	err = Decode(postForm(url.Values{"total_copies": {"three"}}), &d)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, map[string]string{"total_copies": "Enter a whole number."}, apperr.FieldErrors(err))
}

func TestParseDate(t *testing.T) {
	dhaka := time.FixedZone("BST", 6*3600)
	got, err := ParseDate("2024-03-05", dhaka)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, dhaka), got)

	got, err = ParseDate("2024-03-05T14:30", dhaka)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC), got.UTC())

	_, err = ParseDate("05/03/2024", dhaka)
	assert.Error(t, err)
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/history?q=x", SafeNext("/history?q=x", "/books"))
	assert.Equal(t, "/books", SafeNext("", "/books"))
	assert.Equal(t, "/books", SafeNext("https://evil.example", "/books"))
	assert.Equal(t, "/books", SafeNext("//evil.example", "/books"))
}

type fixedUnread int

func (n fixedUnread) UnreadCount(_ context.Context, _ uuid.UUID) (int, error) { return int(n), nil }

func renderer(t *testing.T) *Renderer {
	t.Helper()
	rd, err := NewRenderer(fixedUnread(3), time.UTC, nil)
	require.NoError(t, err)
	return rd
}

func TestRenderShowsSessionFlashesAndUnread(t *testing.T) {
	rd := renderer(t)
	flashRec := httptest.NewRecorder()
	AddFlash(flashRec, httptest.NewRequest(http.MethodGet, "/", nil), FlashSuccess, "Welcome back")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookiesFrom(flashRec) {
		req.AddCookie(c)
	}
	req = req.WithContext(WithSession(req.Context(), &Session{UserID: uuid.New(), Username: "rafi"}))
	rec := httptest.NewRecorder()
	rd.Render(rec, req, http.StatusOK, "home.html", Page{Title: "Home"})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Welcome back")
	assert.Contains(t, body, `id="unread">3<`)
	assert.Contains(t, body, "Log out rafi")
}

func TestFailMapsErrorKinds(t *testing.T) {
	rd := renderer(t)
	cases := []struct {
		name     string
		err      error
		code     int
		location string
	}{
		{"not found", apperr.NotFound("Book not found."), http.StatusNotFound, ""},
		{"forbidden", apperr.Forbidden("no"), http.StatusForbidden, ""},
		{"policy", apperr.Policy("Limit reached"), http.StatusFound, "/books/1"},
		{"validation", apperr.Invalid(map[string]string{"title": "Required."}), http.StatusFound, "/books/1"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rd.Fail(rec, httptest.NewRequest(http.MethodPost, "/x", nil), tc.err, "/books/1")
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.location, rec.Header().Get("Location"))
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		})
	}
}

func TestFormRerendersWithFieldErrors(t *testing.T) {
	rd := renderer(t)
	req := postForm(url.Values{"username": {"rafi"}})
	require.NoError(t, req.ParseForm())
	rec := httptest.NewRecorder()
	rd.Form(rec, req, "login.html", Page{Data: struct{ Next string }{}}, apperr.Invalid(map[string]string{"form": "Invalid credentials"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials")
	assert.Contains(t, rec.Body.String(), `value="rafi"`)
}

func TestAccessMiddleware(t *testing.T) {
	rd := renderer(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	rec := httptest.NewRecorder()
	RequireLogin(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?q=a", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=%2Fhistory%3Fq%3Da", rec.Header().Get("Location"))

	member := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	member = member.WithContext(WithSession(member.Context(), &Session{UserID: uuid.New()}))
	rec = httptest.NewRecorder()
	rd.RequireAdmin(ok).ServeHTTP(rec, member)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	admin = admin.WithContext(WithSession(admin.Context(), &Session{UserID: uuid.New(), Admin: true}))
	rec = httptest.NewRecorder()
	rd.RequireAdmin(ok).ServeHTTP(rec, admin)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	AllowedHosts([]string{"boipoka.com"})(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://evil.example/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = httptest.NewRecorder()
	AllowedHosts([]string{"boipoka.com"})(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://boipoka.com:8000/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
