package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/mail"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/notification"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store/storetest"
)

var dhaka = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Dhaka")
	if err != nil {
		return time.FixedZone("BST", 6*60*60)
	}
	return loc
}()

type fixture struct {
	db     *store.DB
	svc    Service
	notify notification.Service
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{db: storetest.New(t), now: time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.notify = notification.NewService(f.db, nil, notification.WithClock(clock))
	f.svc = NewService(f.db, f.notify, mail.NewOutbox("noreply@boipoka.com", "boipoka_admin@boipoka.com"), dhaka, WithClock(clock))
	return f
}

func (f *fixture) messages(t *testing.T, userID uuid.UUID) []string {
	t.Helper()
	list, err := f.notify.List(context.Background(), userID)
	require.NoError(t, err)
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.Message
	}
	return out
}

func (f *fixture) openLoans(t *testing.T, userID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		book := storetest.Book(t, f.db, "Book", 1)
		_, err := store.Exec(context.Background(), f.db, `
			INSERT INTO borrowings (id, book_id, user_id, borrowed_on, due_date) VALUES (?, ?, ?, ?, ?)
		`, uuid.New(), book, userID, f.now, f.now.Add(14*24*time.Hour))
		require.NoError(t, err)
	}
}

func TestMaxBooksIsDeterministic(t *testing.T) {
	assert.Equal(t, 2, MaxBooksFor(Basic))
	assert.Equal(t, 5, MaxBooksFor(Premium))
	assert.Equal(t, 10, MaxBooksFor(VIP))
	assert.Zero(t, MaxBooksFor("Gold"))

	_, err := ParseTier("basic")
	assert.ErrorIs(t, err, ErrInvalidTier)
	tier, err := ParseTier("VIP")
	require.NoError(t, err)
	assert.Equal(t, VIP, tier)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := storetest.User(t, f.db, "sadia")

	sub, err := f.svc.Create(ctx, user, Premium)
	require.NoError(t, err)
	assert.Equal(t, 5, sub.MaxBooks)
	assert.True(t, sub.IsActive)
	assert.WithinDuration(t, f.now.Add(30*24*time.Hour), sub.EndsAt, 0)

	assert.Equal(t, []string{
		"Your subscription of Premium plan has been created successfully.\nIt will end on Apr. 04, 2024, 02:30 PM.",
	}, f.messages(t, user))

	_, err = f.svc.Create(ctx, user, Basic)
	assert.ErrorIs(t, err, ErrExists)

	_, err = f.svc.Create(ctx, uuid.New(), Basic)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.Create(ctx, user, "Gold")
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestChangeTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := storetest.User(t, f.db, "omi")
	_, err := f.svc.Create(ctx, user, Premium)
	require.NoError(t, err)
	f.openLoans(t, user, 2)

	_, err = f.svc.ChangeTier(ctx, user, Basic)
	assert.EqualError(t, err, "You need to return 1 book(s) to downgrade to the Basic plan.")
	assert.Equal(t, apperr.KindPolicyViolation, apperr.KindOf(err))

	_, err = f.svc.ChangeTier(ctx, user, Premium)
	assert.ErrorIs(t, err, ErrSameTier)

	sub, err := f.svc.ChangeTier(ctx, user, VIP)
	require.NoError(t, err)
	assert.Equal(t, 10, sub.MaxBooks)

	stored, err := f.svc.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, VIP, stored.Tier)
	assert.Equal(t, 10, stored.MaxBooks)

	msgs := f.messages(t, user)
	assert.Contains(t, msgs, "You cannot downgrade your subscription from Premium to Basic until you return at least 1 books.")
	assert.Contains(t, msgs, "You are already using the selected subscription type.")
	assert.Contains(t, msgs, "Your subscription has been upgraded from Premium to VIP successfully.")

	sub, err = f.svc.ChangeTier(ctx, user, Premium)
	require.NoError(t, err)
	assert.Equal(t, 5, sub.MaxBooks)
	assert.Contains(t, f.messages(t, user), "Your subscription has been downgraded from VIP to Premium successfully.")

	_, err = f.svc.ChangeTier(ctx, uuid.New(), VIP)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChangeTierProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		from := rapid.SampledFrom(Tiers).Draw(rt, "from")
		to := rapid.SampledFrom(Tiers).Draw(rt, "to")
		borrowed := rapid.IntRange(0, MaxBooksFor(from)).Draw(rt, "borrowed")

		f := newFixture(t)
		ctx := context.Background()
		user := storetest.User(t, f.db, "prop")
		_, err := f.svc.Create(ctx, user, from)
		require.NoError(rt, err)
		f.openLoans(t, user, borrowed)

		_, err = f.svc.ChangeTier(ctx, user, to)
		stored, getErr := f.svc.Get(ctx, user)
		require.NoError(rt, getErr)

		switch {
		case MaxBooksFor(to) <= borrowed || to == from:
			require.Error(rt, err)
			require.Equal(rt, from, stored.Tier)
		default:
			require.NoError(rt, err)
			require.Equal(rt, to, stored.Tier)
		}
		require.Equal(rt, MaxBooksFor(stored.Tier), stored.MaxBooks)
	})
}

func TestRenewExtendsEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := storetest.User(t, f.db, "jui")
	sub, err := f.svc.Create(ctx, user, Basic)
	require.NoError(t, err)

	renewed, err := f.svc.Renew(ctx, user)
	require.NoError(t, err)
	assert.WithinDuration(t, sub.EndsAt.Add(30*24*time.Hour), renewed.EndsAt, 0)

	_, err = f.svc.Renew(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdminDateOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := storetest.User(t, f.db, "polash")
	sub, err := f.svc.Create(ctx, user, Basic)
	require.NoError(t, err)

	require.NoError(t, f.svc.SetEnd(ctx, sub.ID, f.now.Add(90*24*time.Hour)))
	require.NoError(t, f.svc.SetStart(ctx, sub.ID, f.now.Add(-24*time.Hour)))
	assert.ErrorIs(t, f.svc.SetEnd(ctx, sub.ID, f.now.Add(-48*time.Hour)), ErrEndNotAfter)
	assert.ErrorIs(t, f.svc.SetStart(ctx, sub.ID, f.now.Add(100*24*time.Hour)), ErrStartNotPrev)
	assert.ErrorIs(t, f.svc.SetEnd(ctx, uuid.New(), f.now), ErrNotFound)

	stored, err := f.svc.Get(ctx, user)
	require.NoError(t, err)
	assert.WithinDuration(t, f.now.Add(-24*time.Hour), stored.StartsAt, 0)
	assert.WithinDuration(t, f.now.Add(90*24*time.Hour), stored.EndsAt, 0)
}

func TestDeleteRefusedWithOpenLoans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := storetest.User(t, f.db, "shuvo")
	_, err := f.svc.Create(ctx, user, Basic)
	require.NoError(t, err)
	f.openLoans(t, user, 1)

	assert.ErrorIs(t, f.svc.Delete(ctx, user), ErrOpenLoans)

	_, err = store.Exec(ctx, f.db, `UPDATE borrowings SET returned_at = ?`, f.now)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, user))
	_, err = f.svc.Get(ctx, user)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReactivateQueuesEmailAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := storetest.User(t, f.db, "lina")
	sub, err := f.svc.Create(ctx, user, VIP)
	require.NoError(t, err)
	require.NoError(t, SetActive(ctx, f.db, sub.ID, false))

	require.NoError(t, f.svc.Reactivate(ctx, sub.ID))

	stored, err := f.svc.Get(ctx, user)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Contains(t, f.messages(t, user), "Your subscription of VIP plan has been successfully reactivated by Admin.")

	var recipient, kind string
	require.NoError(t, store.Get(ctx, f.db, &recipient, `SELECT recipient FROM email_outbox`))
	require.NoError(t, store.Get(ctx, f.db, &kind, `SELECT kind FROM email_outbox`))
	assert.Equal(t, "lina@example.com", recipient)
	assert.Equal(t, string(mail.KindReactivated), kind)
}
