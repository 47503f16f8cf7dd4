// Package web holds the HTTP plumbing shared by every page handler: the
// signed session cookie, flash messages, template rendering, middleware and
// the mapping from domain errors to responses.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

const sessionCookie = "boipoka_session"

// Session identifies the signed-in user.
type Session struct {
	UserID   uuid.UUID
	Username string
	Admin    bool
}

type claims struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Accounts resolves the user behind a session to its current name and role.
// A user that no longer exists is an apperr NotFound.
type Accounts interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*Session, error)
}

// Sessions issues and verifies HS256-signed session cookies.
type Sessions struct {
	secret   []byte
	ttl      time.Duration
	secure   bool
	now      func() time.Time
	accounts Accounts
}

func NewSessions(secret string, ttl time.Duration, secure bool) *Sessions {
	return &Sessions{secret: []byte(secret), ttl: ttl, secure: secure, now: time.Now}
}

// WithClock overrides the time source used for issuing and expiry checks.
func (s *Sessions) WithClock(now func() time.Time) *Sessions {
	s.now = now
	return s
}

// WithAccounts makes Load check every session against the account store.
func (s *Sessions) WithAccounts(a Accounts) *Sessions {
	s.accounts = a
	return s
}

// Token signs a session.
func (s *Sessions) Token(sess Session) (string, error) {
	now := s.now()
	c := claims{
		Username: sess.Username,
		Admin:    sess.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID.String(),
			Issuer:    "boipoka",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Parse verifies a token and returns its session.
func (s *Sessions) Parse(token string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{},
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("boipoka"),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid session token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("session subject: %w", err)
	}
	return &Session{UserID: id, Username: c.Username, Admin: c.Admin}, nil
}

// Issue sets the session cookie.
func (s *Sessions) Issue(w http.ResponseWriter, sess Session) error {
	token, err := s.Token(sess)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear ends the session.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Load puts the session from the cookie, if any, on the request context. A
// bad or expired cookie, or one whose user is gone, is dropped.
func (s *Sessions) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := s.Parse(cookie.Value)
		if err == nil && s.accounts != nil {
			sess, err = s.accounts.Resolve(r.Context(), sess.UserID)
			if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
				http.Error(w, "Service unavailable.", http.StatusServiceUnavailable)
				return
			}
		}
		if err != nil {
			s.Clear(w)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

type sessionKey struct{}

func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// CurrentSession returns the signed-in user, or nil.
func CurrentSession(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey{}).(*Session)
	return sess
}
