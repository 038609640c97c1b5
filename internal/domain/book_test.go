package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewBookStartsFullyAvailable(t *testing.T) {
	b, err := NewBook("1984", uuid.New(), 5)
	require.NoError(t, err)

	assert.Equal(t, 5, b.TotalCopies)
	assert.Equal(t, 5, b.AvailableCopies)
	assert.Equal(t, DefaultLanguage, b.Language)

	events := b.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventBookAdded, events[0].EventType())
	assert.Zero(t, b.PendingEvents())
}

func TestNewBookRejectsEmptyPool(t *testing.T) {
	_, err := NewBook("Empty", uuid.New(), 0)
	assert.ErrorIs(t, err, ErrInvalidCopyCount)
}

func TestCheckoutFailsWithoutMutationWhenNothingOnShelf(t *testing.T) {
	b, err := NewBook("Dune", uuid.New(), 1)
	require.NoError(t, err)
	b.PullEvents()

	require.NoError(t, b.Checkout())
	err = b.Checkout()

	assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Len(t, b.PullEvents(), 1)
}

func TestReturnFailsWhenAllCopiesOnShelf(t *testing.T) {
	b, err := NewBook("Emma", uuid.New(), 2)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Return(), ErrAllCopiesReturned)
	assert.Equal(t, 2, b.AvailableCopies)
}

func TestSetTotalCopiesRebalances(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		available     int
		newTotal      int
		wantAvailable int
	}{
		{"grow", 5, 3, 8, 6},
		{"shrink within stock", 5, 4, 3, 2},
		{"shrink below stock clamps at zero", 5, 1, 2, 0},
		{"unchanged", 4, 2, 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Book{TotalCopies: tt.total, AvailableCopies: tt.available}
			require.NoError(t, b.SetTotalCopies(tt.newTotal))
			assert.Equal(t, tt.newTotal, b.TotalCopies)
			assert.Equal(t, tt.wantAvailable, b.AvailableCopies)
		})
	}
}

func TestCopyCountInvariantHolds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b, err := NewBook("prop", uuid.New(), rapid.IntRange(1, 20).Draw(t, "total"))
		if err != nil {
			t.Fatalf("new book: %v", err)
		}

		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 0, 60).Draw(t, "ops")
		for i, op := range ops {
			before := b.AvailableCopies
			switch op {
			case 0:
				if err := b.Checkout(); err == nil && b.AvailableCopies != before-1 {
					t.Fatalf("op %d: checkout moved available from %d to %d", i, before, b.AvailableCopies)
				}
			case 1:
				if err := b.Return(); err == nil && b.AvailableCopies != before+1 {
					t.Fatalf("op %d: return moved available from %d to %d", i, before, b.AvailableCopies)
				}
			case 2:
				_ = b.SetTotalCopies(rapid.IntRange(1, 30).Draw(t, "newTotal"))
			}

			if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
				t.Fatalf("op %d: available=%d total=%d", i, b.AvailableCopies, b.TotalCopies)
			}
		}
	})
}

func TestSetTotalCopiesDeltaProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 50).Draw(t, "total")
		available := rapid.IntRange(0, total).Draw(t, "available")
		newTotal := rapid.IntRange(1, 100).Draw(t, "newTotal")

		b := &Book{TotalCopies: total, AvailableCopies: available}
		if err := b.SetTotalCopies(newTotal); err != nil {
			t.Fatalf("set total: %v", err)
		}

		want := max(0, available+newTotal-total)
		if b.AvailableCopies != want {
			t.Fatalf("available=%d, want %d", b.AvailableCopies, want)
		}
	})
}

func TestCheckoutRecordReturnIsTerminal(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := NewCheckoutRecord(uuid.New(), uuid.New(), now, 14, "first")

	assert.True(t, rec.IsActive())
	assert.Equal(t, now.AddDate(0, 0, 14), rec.DueDate)

	require.NoError(t, rec.MarkReturned(now.Add(time.Hour), ""))
	assert.Equal(t, CheckoutReturned, rec.Status)
	assert.Equal(t, "first", rec.Notes)
	require.NotNil(t, rec.ReturnedAt)

	assert.ErrorIs(t, rec.MarkReturned(now.Add(2*time.Hour), "again"), ErrAlreadyReturned)
	assert.Equal(t, "first", rec.Notes)
}

func TestCheckoutRecordOverdueIsDerived(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := NewCheckoutRecord(uuid.New(), uuid.New(), now.AddDate(0, 0, -20), 14, "")

	assert.True(t, rec.IsOverdue(now))
	assert.Equal(t, CheckoutActive, rec.Status)

	require.NoError(t, rec.MarkReturned(now, ""))
	assert.False(t, rec.IsOverdue(now))
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("Librarian")
	assert.True(t, ok)
	assert.True(t, r.IsStaff())

	_, ok = ParseRole("SuperUser")
	assert.False(t, ok)
	assert.False(t, RolePatron.IsStaff())
}
