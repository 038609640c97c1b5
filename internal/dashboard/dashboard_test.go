package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwise/internal/domain"
	"shelfwise/internal/store"
	"shelfwise/internal/store/memory"
)

func TestStatsAreRoleScoped(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := store.New(memory.New(), nil, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	uow := st.Begin()
	orwell := domain.NewAuthor("George", "Orwell", "")
	b1984, err := domain.NewBook("1984", orwell.ID, 2)
	require.NoError(t, err)
	farm, err := domain.NewBook("Animal Farm", orwell.ID, 1)
	require.NoError(t, err)
	require.NoError(t, farm.Checkout())
	require.NoError(t, b1984.Checkout())
	alice := domain.NewPatron("alice", "Alice", "alice@example.com", "LIB-20240501-000001")
	bob := domain.NewPatron("bob", "Bob", "bob@example.com", "LIB-20240501-000002")

	late := domain.NewCheckoutRecord(b1984.ID, alice.ID, now.AddDate(0, 0, -20), 14, "")
	onTime := domain.NewCheckoutRecord(farm.ID, bob.ID, now.AddDate(0, 0, -1), 14, "")
	uow.Authors.Add(orwell)
	uow.Books.Add(b1984)
	uow.Books.Add(farm)
	uow.Patrons.Add(alice)
	uow.Patrons.Add(bob)
	uow.Checkouts.Add(late)
	uow.Checkouts.Add(onTime)
	require.NoError(t, uow.SaveChanges(ctx))

	svc := NewService(st)

	mine, err := svc.Stats(ctx, domain.Actor{UserID: "alice", Role: domain.RolePatron})
	require.NoError(t, err)
	assert.Equal(t, 2, mine.TotalBooks)
	assert.Equal(t, 1, mine.AvailableBooks)
	assert.Equal(t, 1, mine.TotalAuthors)
	assert.Equal(t, 1, mine.ActiveCheckouts)
	assert.Equal(t, 1, mine.OverdueCheckouts)
	assert.Nil(t, mine.TotalPatrons)

	staff, err := svc.Stats(ctx, domain.Actor{UserID: "admin", Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 2, staff.ActiveCheckouts)
	assert.Equal(t, 1, staff.OverdueCheckouts)
	require.NotNil(t, staff.TotalPatrons)
	assert.Equal(t, 2, *staff.TotalPatrons)

	stranger, err := svc.Stats(ctx, domain.Actor{UserID: "carol", Role: domain.RolePatron})
	require.NoError(t, err)
	assert.Zero(t, stranger.ActiveCheckouts)
	assert.Equal(t, 2, stranger.TotalBooks)
}
