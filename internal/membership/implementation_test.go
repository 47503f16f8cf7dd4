package membership

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/catalog"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store/storetest"
)

type standings map[uuid.UUID]Standing

func (s standings) Standing(_ context.Context, id uuid.UUID) (Standing, error) {
	return s[id], nil
}

func register(t *testing.T, svc Service, username string) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), Registration{
		Username: username, Email: username + "@example.com", Password1: "correct horse", Password2: "correct horse",
	})
	require.NoError(t, err)
	return u
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(storetest.New(t), nil)
	ctx := context.Background()
	u := register(t, svc, "tanvir")
	assert.False(t, u.IsAdmin)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	res, err := svc.Authenticate(ctx, "tanvir", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Equal(t, DestinationSubscribe, res.Destination)

	_, err = svc.Authenticate(ctx, "tanvir", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(storetest.New(t), nil)
	register(t, svc, "mitu")

	_, err := svc.Register(context.Background(), Registration{
		Username: "mitu", Email: "m@example.com", Password1: "password1", Password2: "password1",
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.Register(context.Background(), Registration{
		Username: "x", Email: "bad", Password1: "short", Password2: "other",
	})
	fields := apperr.FieldErrors(err)
	assert.Len(t, fields, 4)
}

func TestLoginGate(t *testing.T) {
	db := storetest.New(t)
	st := standings{}
	svc := NewService(db, st)
	ctx := context.Background()

	subscribed := register(t, svc, "subscribed")
	suspended := register(t, svc, "suspended")
	inactive := register(t, svc, "inactive")
	st[subscribed.ID] = Standing{HasSubscription: true, Active: true}
	st[suspended.ID] = Standing{HasSubscription: true, Active: false, Incidents: 3}
	st[inactive.ID] = Standing{HasSubscription: true, Active: false, Incidents: 1}

	res, err := svc.Authenticate(ctx, "subscribed", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, DestinationCatalog, res.Destination)

	_, err = svc.Authenticate(ctx, "suspended", "correct horse")
	assert.ErrorIs(t, err, ErrSuspended)
	assert.Equal(t, apperr.KindPolicyViolation, apperr.KindOf(err))

	res, err = svc.Authenticate(ctx, "inactive", "correct horse")
	require.NoError(t, err, "fewer than three incidents does not block login")
	assert.Equal(t, DestinationCatalog, res.Destination)
}

func TestLoginRateLimitedPerUsername(t *testing.T) {
	svc := NewService(storetest.New(t), nil, WithLoginLimit(2))
	register(t, svc, "hasan")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Authenticate(ctx, "hasan", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := svc.Authenticate(ctx, "hasan", "correct horse")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Authenticate(ctx, "someone-else", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEnsureAdminCreatesThenPromotes(t *testing.T) {
	svc := NewService(storetest.New(t), nil)
	ctx := context.Background()

	admin, err := svc.EnsureAdmin(ctx, "admin", "admin@boipoka.com", "supersecret")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	res, err := svc.Authenticate(ctx, "admin", "supersecret")
	require.NoError(t, err)
	assert.Equal(t, DestinationCatalog, res.Destination)

	member := register(t, svc, "promoted")
	again, err := svc.EnsureAdmin(ctx, "promoted", "p@boipoka.com", "newpassword")
	require.NoError(t, err)
	assert.Equal(t, member.ID, again.ID)
	assert.True(t, again.IsAdmin)

	members, err := svc.ListMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestUpdateUser(t *testing.T) {
	svc := NewService(storetest.New(t), nil)
	ctx := context.Background()
	a := register(t, svc, "anika")
	register(t, svc, "bristi")

	u, err := svc.UpdateUser(ctx, a.ID, Profile{Username: "anika2", Email: "anika2@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "anika2", u.Username)

	_, err = svc.UpdateUser(ctx, a.ID, Profile{Username: "bristi", Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.UpdateUser(ctx, uuid.New(), Profile{Username: "ghost", Email: "g@example.com"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteUserReturnsOpenCopies(t *testing.T) {
	db := storetest.New(t)
	svc := NewService(db, nil)
	ctx := context.Background()

	u := register(t, svc, "rakib")
	clean := storetest.Book(t, db, "Padma Nadir Majhi", 2)
	damaged := storetest.Book(t, db, "Lalsalu", 1)
	now := time.Now().UTC()
	for _, b := range []struct {
		id      uuid.UUID
		damaged bool
	}{{clean, false}, {damaged, true}} {
		require.NoError(t, catalog.TakeCopy(ctx, db, b.id, now))
		_, err := store.Exec(ctx, db, `
			INSERT INTO borrowings (id, book_id, user_id, borrowed_on, due_date, is_damaged_or_lost)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.New(), b.id, u.ID, now, now.Add(14*24*time.Hour), b.damaged)
		require.NoError(t, err)
	}

	require.NoError(t, svc.DeleteUser(ctx, u.ID))
	_, err := svc.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	book, err := catalog.Get(ctx, db, clean)
	require.NoError(t, err)
	assert.Equal(t, 2, book.AvailableCopies)
	book, err = catalog.Get(ctx, db, damaged)
	require.NoError(t, err)
	assert.Equal(t, 0, book.AvailableCopies, "a lost copy stays off the shelf")

	var loans int
	require.NoError(t, store.Get(ctx, db, &loans, `SELECT COUNT(*) FROM borrowings`))
	assert.Zero(t, loans)
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, salt, err := hashPassword("boipoka")
	require.NoError(t, err)
	ok, err := verifyPassword("boipoka", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = verifyPassword("Boipoka", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = verifyPassword("x", "!!", hash)
	assert.Error(t, err)
}
