// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/catalog"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/platform/validate"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/policy"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

const userColumns = `id, username, email, first_name, last_name, password_hash, salt, is_admin, created_at`

// maxTrackedLogins bounds the per-username limiter table.
const maxTrackedLogins = 10000

// service implements the Service interface.
type service struct {
	db       *store.DB
	standing StandingSource
	tracer   trace.Tracer
	now      func() time.Time

	registerLimiter *rate.Limiter
	loginPerMinute  int
	mu              sync.Mutex
	loginLimiters   map[string]*rate.Limiter
}

// Option configures the service.
type Option func(*service)

// WithLoginLimit allows n login attempts per username per minute.
func WithLoginLimit(n int) Option {
	return func(s *service) { s.loginPerMinute = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new membership service instance. standing may be nil,
// in which case every user counts as unsubscribed.
func NewService(db *store.DB, standing StandingSource, opts ...Option) Service {
	s := &service{
		db:              db,
		standing:        standing,
		tracer:          otel.Tracer("boipoka/membership"),
		now:             time.Now,
		registerLimiter: rate.NewLimiter(rate.Every(3*time.Second), 20),
		loginPerMinute:  10,
		loginLimiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a non-admin account.
func (s *service) Register(ctx context.Context, reg Registration) (*User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if err := validate.Struct(reg); err != nil {
		return nil, err
	}
	if !s.registerLimiter.Allow() {
		return nil, ErrRateLimited
	}

	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	user, err := s.newUser(reg.Username, reg.Email, reg.Password1, false)
	if err != nil {
		return nil, err
	}
	user.FirstName = strings.TrimSpace(reg.FirstName)
	user.LastName = strings.TrimSpace(reg.LastName)

	if err := insertUser(ctx, s.db, user); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return user, nil
}

func (s *service) newUser(username, email, password string, admin bool) (*User, error) {
	hash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Salt:         salt,
		IsAdmin:      admin,
		CreatedAt:    s.now().UTC(),
	}, nil
}

func insertUser(ctx context.Context, q store.Querier, u *User) error {
	_, err := store.Exec(ctx, q, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.Salt, u.IsAdmin, u.CreatedAt)
	if store.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *service) loginLimiter(username string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loginLimiters[username]
	if !ok {
		if len(s.loginLimiters) >= maxTrackedLogins {
			s.loginLimiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(s.loginPerMinute, 1))), max(s.loginPerMinute, 1))
		s.loginLimiters[username] = l
	}
	return l
}

// Authenticate verifies credentials, then applies the suspension gate.
func (s *service) Authenticate(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if !s.loginLimiter(username).Allow() {
		return nil, ErrRateLimited
	}

	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	user := &User{}
	err := store.Get(ctx, s.db, user, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	ok, err := verifyPassword(password, user.Salt, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		span.AddEvent("login.rejected")
		return nil, ErrInvalidCredentials
	}

	var st Standing
	if s.standing != nil {
		st, err = s.standing.Standing(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("load standing: %w", err)
		}
	}
	if policy.BlocksLogin(st.HasSubscription, st.Active, st.Incidents) {
		span.AddEvent("login.suspended")
		return nil, ErrSuspended
	}

	dest := DestinationSubscribe
	if st.HasSubscription || user.IsAdmin {
		dest = DestinationCatalog
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return &LoginResult{User: user, Destination: dest}, nil
}

// GetUser retrieves a user by ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return Lookup(ctx, s.db, id)
}

// Lookup loads a user through q.
func Lookup(ctx context.Context, q store.Querier, id uuid.UUID) (*User, error) {
	user := &User{}
	err := store.Get(ctx, q, user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *service) ListMembers(ctx context.Context) ([]*User, error) {
	var users []*User
	err := store.Select(ctx, s.db, &users, `
		SELECT `+userColumns+` FROM users WHERE is_admin = ? ORDER BY username
	`, false)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *service) UpdateUser(ctx context.Context, id uuid.UUID, p Profile) (*User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(p.Email)
	if err := validate.Struct(p); err != nil {
		return nil, err
	}

	var user *User
	err := s.db.InTx(ctx, "membership.update_user", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if user, err = Lookup(ctx, tx, id); err != nil {
			return err
		}
		_, err = store.Exec(ctx, tx, `UPDATE users SET username = ?, email = ? WHERE id = ?`, p.Username, p.Email, id)
		if store.IsUniqueViolation(err) {
			return ErrUsernameTaken
		}
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		user.Username, user.Email = p.Username, p.Email
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes the account and everything it owns. Copies still out on
// clean loans go back on the shelf first so the catalog stays balanced.
func (s *service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "membership.delete_user",
		trace.WithAttributes(attribute.String("user.id", id.String())),
	)
	defer span.End()

	return s.db.InTx(ctx, "membership.delete_user", func(ctx context.Context, tx *store.Tx) error {
		if _, err := Lookup(ctx, tx, id); err != nil {
			return err
		}
		var books []uuid.UUID
		if err := store.Select(ctx, tx, &books, `
			SELECT book_id FROM borrowings
			WHERE user_id = ? AND returned_at IS NULL AND is_damaged_or_lost = ?
		`, id, false); err != nil {
			return fmt.Errorf("select open loans: %w", err)
		}
		now := s.now()
		for _, book := range books {
			if err := catalog.ReturnCopy(ctx, tx, book, now); err != nil {
				return err
			}
		}
		if _, err := store.Exec(ctx, tx, `DELETE FROM users WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}

func (s *service) EnsureAdmin(ctx context.Context, username, email, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if err := validate.Struct(Registration{Username: username, Email: email, Password1: password, Password2: password}); err != nil {
		return nil, err
	}

	var user *User
	err := s.db.InTx(ctx, "membership.ensure_admin", func(ctx context.Context, tx *store.Tx) error {
		fresh, err := s.newUser(username, email, password, true)
		if err != nil {
			return err
		}
		existing := &User{}
		err = store.Get(ctx, tx, existing, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
		switch {
		case errors.Is(err, store.ErrNotFound):
			user = fresh
			return insertUser(ctx, tx, fresh)
		case err != nil:
			return fmt.Errorf("load user: %w", err)
		}
		_, err = store.Exec(ctx, tx, `
			UPDATE users SET email = ?, password_hash = ?, salt = ?, is_admin = ? WHERE id = ?
		`, email, fresh.PasswordHash, fresh.Salt, true, existing.ID)
		if err != nil {
			return fmt.Errorf("promote user: %w", err)
		}
		existing.Email, existing.PasswordHash, existing.Salt, existing.IsAdmin = email, fresh.PasswordHash, fresh.Salt, true
		user = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
